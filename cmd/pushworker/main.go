package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/eventra/notify/internal/config"
	"github.com/eventra/notify/internal/domain"
	"github.com/eventra/notify/internal/runtimemsg"
	"github.com/eventra/notify/internal/worker"
)

// The worker runs as a separate process from the agent. The push
// transport hands it one JSON message per line on stdin; notification
// clicks re-invoke the binary as "pushworker click <notifId>".
func main() {
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

	poster := runtimemsg.NewPoster("http://"+cfg.Runtime.ListenAddr, logger)
	w := worker.NewWorker(
		execNotifier{logger: logger},
		noSurfaces{},
		execOpener{},
		poster,
		cfg.Runtime.AppOrigin,
		logger,
	)

	if len(os.Args) > 2 && os.Args[1] == "click" {
		notifID := os.Args[2]
		w.HandleClick(context.Background(), worker.OSNotification{
			Tag:  notifID,
			Data: map[string]string{"notifId": notifID},
		})
		return
	}

	logger.Info("Push worker reading messages")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg domain.PushMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn("dropping malformed push message", zap.Error(err))
			continue
		}
		w.HandleMessage(msg)
	}
	if err := scanner.Err(); err != nil {
		logger.Error("message stream failed", zap.Error(err))
	}
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// execNotifier shells out to notify-send, the desktop notification
// command on the agent's target platform.
type execNotifier struct {
	logger *zap.Logger
}

func (n execNotifier) Show(note worker.OSNotification) error {
	args := []string{"--icon", note.Icon, note.Title, note.Body}
	if err := exec.Command("notify-send", args...).Run(); err != nil {
		return fmt.Errorf("notify-send failed: %w", err)
	}
	return nil
}

func (n execNotifier) Close(tag string) error {
	// notify-send has no close handle; notifications expire on their own.
	return nil
}

// noSurfaces reports no open application surfaces, so clicks always
// open a fresh one.
type noSurfaces struct{}

func (noSurfaces) List() []worker.Surface { return nil }

// execOpener opens URLs with xdg-open.
type execOpener struct{}

func (execOpener) Open(url string) error {
	if err := exec.Command("xdg-open", url).Run(); err != nil {
		return fmt.Errorf("xdg-open failed: %w", err)
	}
	return nil
}
