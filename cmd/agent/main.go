package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/eventra/notify/internal/api"
	"github.com/eventra/notify/internal/config"
	"github.com/eventra/notify/internal/feed"
	"github.com/eventra/notify/internal/push"
	"github.com/eventra/notify/internal/runtimemsg"
	"github.com/eventra/notify/internal/store"
	"github.com/eventra/notify/internal/ui"
	"github.com/eventra/notify/internal/ws"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.API.UserID == "" {
		logger.Fatal("EVENTRA_USER_ID is required")
	}

	logger.Info("Starting Eventra notify agent",
		zap.String("env", cfg.Server.Env),
		zap.String("user_id", cfg.API.UserID),
	)

	fileStore, err := store.NewFileStore(cfg.State.Dir)
	if err != nil {
		logger.Fatal("Failed to open state store", zap.Error(err))
	}

	tokens := &api.JWTTokenSource{Source: api.StaticTokenSource(cfg.API.Token)}
	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, tokens, logger)

	registry := ws.NewRegistry(cfg.WS.BaseURL, ws.Options{
		Heartbeat:    cfg.WS.Heartbeat,
		BackoffFloor: cfg.WS.BackoffFloor,
		BackoffCeil:  cfg.WS.BackoffCeil,
		CloseGrace:   cfg.WS.CloseGrace,
	}, logger)

	feedSync := feed.NewSync(apiClient, cfg.API.UserID, feed.Options{
		PageLimit:   cfg.Push.PageLimit,
		UnreadStale: cfg.Push.UnreadStale,
	}, logger)
	feedSync.BindClient(registry.Get(cfg.API.UserID))
	defer feedSync.Close()

	adapter := ui.NewAdapter(feedSync, func(link string) {
		logger.Info("navigate", zap.String("link", link))
	}, logger)

	// Runtime message receiver: warm-path handoff from the background
	// worker, and the interaction signal for push arming.
	receiver := runtimemsg.NewReceiver(cfg.Runtime.AppOrigin, func(notifID string) {
		openByID(context.Background(), feedSync, adapter, notifID, logger)
	}, logger)

	registrar := push.NewRegistrar(
		apiClient,
		envSupport{},
		fileTokenProvider{path: os.Getenv("EVENTRA_PUSH_TOKEN_FILE")},
		receiver,
		fileStore,
		cfg.API.UserID,
		cfg.Push.Platform,
		logger,
	)
	registrar.Start()
	defer registrar.Close()

	// Cold-path handoff: a startup URL carried over from the worker.
	if rawURL := os.Getenv("EVENTRA_STARTUP_URL"); rawURL != "" {
		if u, err := url.Parse(rawURL); err == nil {
			if notifID, ok := runtimemsg.ParseOpenRequest(u); ok {
				openByID(context.Background(), feedSync, adapter, notifID, logger)
			}
		}
	}

	srv := &http.Server{
		Addr:         cfg.Runtime.ListenAddr,
		Handler:      receiver.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Runtime channel listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Runtime channel failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Runtime channel shutdown error", zap.Error(err))
	}

	logger.Info("Agent stopped")
}

// openByID resolves a handed-over notification id against the feed and
// runs the open flow for it.
func openByID(ctx context.Context, feedSync *feed.Sync, adapter *ui.Adapter, notifID string, logger *zap.Logger) {
	items, err := feedSync.Feed(ctx)
	if err != nil {
		logger.Warn("failed to load feed for handoff", zap.String("notif_id", notifID), zap.Error(err))
		return
	}
	for _, n := range items {
		if n.ID == notifID {
			adapter.Open(ctx, n)
			return
		}
	}
	logger.Debug("handed-over notification not in first page", zap.String("notif_id", notifID))
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// envSupport reads push capability and permission from the environment.
// The agent has no browser permission prompt; the operator's setting is
// the permission.
type envSupport struct{}

func (envSupport) Supported() bool {
	return os.Getenv("EVENTRA_PUSH_TOKEN_FILE") != ""
}

func (envSupport) Permission() push.Permission {
	switch strings.ToLower(os.Getenv("EVENTRA_PUSH_PERMISSION")) {
	case "granted":
		return push.PermissionGranted
	case "denied":
		return push.PermissionDenied
	default:
		return push.PermissionDefault
	}
}

func (envSupport) RequestPermission(ctx context.Context) (push.Permission, error) {
	// No interactive prompt outside the platform surface; arming plus
	// the first interaction is taken as consent.
	return push.PermissionGranted, nil
}

// fileTokenProvider reads the provider-managed push token from a file
// the push transport rotates in place.
type fileTokenProvider struct {
	path string
}

func (p fileTokenProvider) Token(ctx context.Context) (string, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("failed to read push token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
