package ws

import (
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"
)

// Registry maps user identity to its shared Client so every consumer in
// the process reuses one transport per user. Entries are never removed;
// an idle client closes its own transport after the grace period but
// stays registered for fast resubscription.
type Registry struct {
	baseURL string
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a registry whose clients connect under baseURL
// (for example "wss://api.eventra.app").
func NewRegistry(baseURL string, opts Options, logger *zap.Logger) *Registry {
	return &Registry{
		baseURL: baseURL,
		opts:    opts,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for identity, constructing it on first use.
func (r *Registry) Get(identity string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[identity]; ok {
		return c
	}
	c := NewClient(r.addr(identity), r.opts, r.logger.With(zap.String("user_id", identity)))
	r.clients[identity] = c
	r.logger.Debug("connection client created", zap.String("user_id", identity))
	return c
}

// Reset drops all clients. Test hook only; live subscribers keep their
// old client, new Get calls start fresh.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[string]*Client)
}

// addr derives the connection address deterministically from identity.
func (r *Registry) addr(identity string) string {
	return fmt.Sprintf("%s/ws/notifications?user=%s", r.baseURL, url.QueryEscape(identity))
}
