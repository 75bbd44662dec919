// Package runtimemsg carries "open this notification" requests from the
// background delivery worker back into the agent. There is no shared
// memory between the two processes, so two named channels exist: a
// localhost HTTP endpoint for a running agent (warm path) and URL query
// parameters read on the next startup (cold path). Both funnel into one
// OpenRequestHandler.
package runtimemsg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/eventra/notify/internal/middleware"
	"github.com/eventra/notify/pkg/response"
)

// OpenRequestHandler handles a request to open one notification's
// detail in the application.
type OpenRequestHandler func(notifID string)

type openRequest struct {
	NotifID string `json:"notifId"`
}

// Receiver is the agent-side end of the warm channel. Any inbound
// request also counts as user activity, which the push registration
// flow uses as its interaction signal.
type Receiver struct {
	appOrigin string
	handler   OpenRequestHandler
	logger    *zap.Logger

	mu    sync.Mutex
	hooks map[int]func()
	next  int
}

// NewReceiver creates a receiver delivering open requests to handler.
func NewReceiver(appOrigin string, handler OpenRequestHandler, logger *zap.Logger) *Receiver {
	return &Receiver{
		appOrigin: appOrigin,
		handler:   handler,
		logger:    logger,
		hooks:     make(map[int]func()),
	}
}

// Handler returns the HTTP surface of the warm channel.
func (rc *Receiver) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RecoveryMiddleware(rc.logger))
	r.Use(middleware.LoggingMiddleware(rc.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{rc.appOrigin},
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Post("/runtime/notification-open", rc.handleOpen)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.NotFound(w, "unknown runtime endpoint")
	})
	return r
}

func (rc *Receiver) handleOpen(w http.ResponseWriter, r *http.Request) {
	rc.fireInteraction()

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotifID == "" {
		response.BadRequest(w, "missing notification id")
		return
	}

	rc.logger.Debug("runtime open request", zap.String("notif_id", req.NotifID))
	if rc.handler != nil {
		rc.handler(req.NotifID)
	}
	response.OK(w, map[string]string{"status": "accepted"})
}

// OnceNextInteraction arms fn to fire on the next inbound request. The
// returned cancel detaches it without firing. Implements the push
// flow's Interactions contract.
func (rc *Receiver) OnceNextInteraction(fn func()) (cancel func()) {
	rc.mu.Lock()
	id := rc.next
	rc.next++
	rc.hooks[id] = fn
	rc.mu.Unlock()

	return func() {
		rc.mu.Lock()
		delete(rc.hooks, id)
		rc.mu.Unlock()
	}
}

func (rc *Receiver) fireInteraction() {
	rc.mu.Lock()
	hooks := rc.hooks
	rc.hooks = make(map[int]func())
	rc.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// ParseOpenRequest reads the cold-path handoff from a startup URL:
// openNotif=1&notifId=<id>.
func ParseOpenRequest(u *url.URL) (notifID string, ok bool) {
	q := u.Query()
	if q.Get("openNotif") != "1" {
		return "", false
	}
	id := q.Get("notifId")
	if id == "" {
		return "", false
	}
	return id, true
}

// OpenURL builds the cold-path URL the worker opens when no agent
// surface is running.
func OpenURL(appOrigin, notifID string) string {
	return fmt.Sprintf("%s/?openNotif=1&notifId=%s", appOrigin, url.QueryEscape(notifID))
}

// Poster is the worker-side end of the warm channel.
type Poster struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewPoster posts open requests to the agent at addr
// (for example "http://127.0.0.1:7380").
func NewPoster(addr string, logger *zap.Logger) *Poster {
	return &Poster{
		http:   resty.New().SetBaseURL(addr).SetTimeout(2 * time.Second),
		logger: logger,
	}
}

// Post delivers one open request. An error means no agent answered and
// the caller should fall back to the cold path.
func (p *Poster) Post(ctx context.Context, notifID string) error {
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(openRequest{NotifID: notifID}).
		Post("/runtime/notification-open")
	if err != nil {
		return fmt.Errorf("runtime channel unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("runtime channel rejected request: status %d", resp.StatusCode())
	}
	return nil
}
