package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eventra/notify/internal/domain"
)

// Permission mirrors the push permission states of the platform
// surface: undetermined, granted, or denied.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// State of the registration flow for one session.
type State string

const (
	StateUnarmed     State = "unarmed"
	StateArmed       State = "armed"
	StateRegistering State = "registering"
	StateRegistered  State = "registered"
	StateDenied      State = "denied"
)

// Support probes push capability and mediates the permission prompt.
// Requesting permission more than once per session is the caller's
// bug; implementations may assume a single prompt.
type Support interface {
	Supported() bool
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
}

// TokenProvider retrieves the current push token from the provider.
// Tokens rotate at the provider's cadence.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Interactions arms a one-shot hook on the next user interaction. The
// returned cancel detaches the hook without firing it.
type Interactions interface {
	OnceNextInteraction(fn func()) (cancel func())
}

// API is the platform surface the registrar talks to.
type API interface {
	RegisterDevice(ctx context.Context, reg domain.DeviceRegistration) error
}

// Registrar runs the register-this-device flow: at most one permission
// prompt per session, at most one in-flight token registration, and a
// backend call only when the token hash differs from the cached hash
// for this (user, device) pair.
type Registrar struct {
	api          API
	support      Support
	tokens       TokenProvider
	interactions Interactions
	store        Store
	userID       string
	platform     string
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu        sync.Mutex
	state     State
	cancelArm func()
}

// NewRegistrar wires the flow for one user identity. Nothing happens
// until Start.
func NewRegistrar(api API, support Support, tokens TokenProvider, interactions Interactions, store Store, userID, platform string, logger *zap.Logger) *Registrar {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registrar{
		api:          api,
		support:      support,
		tokens:       tokens,
		interactions: interactions,
		store:        store,
		userID:       userID,
		platform:     platform,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateUnarmed,
	}
}

// State reports the current flow state.
func (r *Registrar) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start evaluates capability and permission and either registers
// immediately, arms on the next user interaction, or stays inert for
// the session.
func (r *Registrar) Start() {
	if !r.support.Supported() {
		r.logger.Debug("push unsupported, staying unarmed")
		return
	}

	switch r.support.Permission() {
	case PermissionGranted:
		go func() {
			if err := r.Register(r.ctx); err != nil {
				r.logger.Warn("push registration failed", zap.Error(err))
			}
		}()
	case PermissionDenied:
		// Previously denied: no prompting this session.
		r.logger.Debug("push permission previously denied")
	default:
		r.mu.Lock()
		r.state = StateArmed
		r.cancelArm = r.interactions.OnceNextInteraction(r.onInteraction)
		r.mu.Unlock()
	}
}

// Close detaches the armed hook and suppresses any asynchronous
// continuation still in flight.
func (r *Registrar) Close() {
	r.cancel()
	r.mu.Lock()
	if r.cancelArm != nil {
		r.cancelArm()
		r.cancelArm = nil
	}
	r.mu.Unlock()
}

// onInteraction fires once, on the first user interaction after arming.
func (r *Registrar) onInteraction() {
	if r.ctx.Err() != nil {
		return
	}

	perm, err := r.support.RequestPermission(r.ctx)
	if err != nil {
		// The one-shot hook is spent, so armed no longer describes
		// anything that can fire.
		r.setState(StateUnarmed)
		r.logger.Warn("permission request failed", zap.Error(err))
		return
	}
	if r.ctx.Err() != nil {
		return
	}
	if perm != PermissionGranted {
		r.mu.Lock()
		r.state = StateDenied
		r.mu.Unlock()
		r.logger.Info("push permission not granted", zap.String("result", string(perm)))
		return
	}

	if err := r.Register(r.ctx); err != nil {
		r.logger.Warn("push registration failed", zap.Error(err))
	}
}

// Register retrieves the current token and registers it with the
// backend unless its hash matches the cached one. Concurrent callers
// share a single in-flight run.
func (r *Registrar) Register(ctx context.Context) error {
	_, err, _ := r.group.Do("register", func() (interface{}, error) {
		return nil, r.register(ctx)
	})
	return err
}

func (r *Registrar) register(ctx context.Context) error {
	r.setState(StateRegistering)

	deviceID, err := DeviceID(r.store)
	if err != nil {
		r.setState(StateUnarmed)
		return err
	}

	token, err := r.tokens.Token(ctx)
	if err != nil {
		r.setState(StateUnarmed)
		return fmt.Errorf("failed to retrieve push token: %w", err)
	}
	if err := ctx.Err(); err != nil {
		r.setState(StateUnarmed)
		return err
	}

	hash := HashToken(token)
	cacheKey := r.userID + ":" + deviceID
	if cached, ok := r.store.Get(cacheKey); ok && cached == hash {
		r.logger.Debug("push token unchanged, skipping registration",
			zap.String("device_id", deviceID))
		r.setState(StateRegistered)
		return nil
	}

	err = r.api.RegisterDevice(ctx, domain.DeviceRegistration{
		Token:    token,
		DeviceID: deviceID,
		Platform: r.platform,
	})
	if err != nil {
		// Leave the cached hash untouched so the next opportunity
		// retries instead of wrongly believing this token registered.
		r.setState(StateUnarmed)
		return fmt.Errorf("failed to register device: %w", err)
	}

	if err := r.store.Set(cacheKey, hash); err != nil {
		r.logger.Warn("failed to cache token hash", zap.Error(err))
	}
	r.setState(StateRegistered)
	r.logger.Info("device registered for push", zap.String("device_id", deviceID))
	return nil
}

func (r *Registrar) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// HashToken derives the stable one-way hash used by the registration
// de-duplication cache.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
