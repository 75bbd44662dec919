package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State of the logical connection.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// SendResult reports what happened to an outbound payload. A queued
// payload is not lost; it is flushed in order once the transport opens.
type SendResult int

const (
	SendQueued SendResult = iota
	SendDelivered
)

// Message is one inbound frame. Data is nil when the frame was not
// valid JSON; the raw bytes are always preserved so listeners can still
// inspect unparsed frames.
type Message struct {
	Raw  []byte
	Data map[string]interface{}
}

// Listener receives every inbound frame on the connection.
type Listener func(Message)

// Options tune the connection lifecycle timers.
type Options struct {
	Heartbeat    time.Duration
	BackoffFloor time.Duration
	BackoffCeil  time.Duration
	CloseGrace   time.Duration
	DialTimeout  time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Heartbeat <= 0 {
		out.Heartbeat = 25 * time.Second
	}
	if out.BackoffFloor <= 0 {
		out.BackoffFloor = time.Second
	}
	if out.BackoffCeil <= 0 {
		out.BackoffCeil = 30 * time.Second
	}
	if out.CloseGrace <= 0 {
		out.CloseGrace = 300 * time.Millisecond
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	return out
}

// Client owns one logical websocket connection for one user identity.
// Subscribers share the underlying transport through reference
// counting; the transport is closed only after the last unsubscribe,
// past a short grace period that debounces rapid resubscribes.
//
// Transport errors never escape the client. Callers observe
// connectivity through State and SendResult only.
type Client struct {
	addr   string
	opts   Options
	dialer *websocket.Dialer
	logger *zap.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	connecting     bool
	refs           int
	nextListener   int
	listeners      map[int]Listener
	queue          [][]byte
	backoff        time.Duration
	closeTimer     *time.Timer
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
}

// NewClient creates a client for addr. No connection is made until the
// first Subscribe or Send.
func NewClient(addr string, opts Options, logger *zap.Logger) *Client {
	o := opts.withDefaults()
	return &Client{
		addr:      addr,
		opts:      o,
		dialer:    &websocket.Dialer{HandshakeTimeout: o.DialTimeout},
		logger:    logger,
		listeners: make(map[int]Listener),
		backoff:   o.BackoffFloor,
	}
}

// Subscribe registers a listener for inbound frames and ensures the
// transport is connecting or connected. The returned function removes
// the listener and releases the subscriber's reference; calling it more
// than once has no effect.
func (c *Client) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	c.refs++
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	c.ensureConnectedLocked()
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners, id)
			c.refs--
			if c.refs > 0 {
				return
			}
			// Debounce: keep the transport up through the grace period
			// in case a new subscriber arrives right away.
			c.closeTimer = time.AfterFunc(c.opts.CloseGrace, c.closeIfUnused)
		})
	}
}

// Send delivers v immediately when the transport is open, otherwise
// queues it (FIFO) and triggers a connection attempt. Strings and byte
// slices pass through as-is; anything else is JSON-encoded.
func (c *Client) Send(v interface{}) SendResult {
	payload, err := encodePayload(v)
	if err != nil {
		c.logger.Error("failed to encode outbound frame", zap.Error(err))
		return SendQueued
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		if err == nil {
			return SendDelivered
		}
		c.logger.Warn("write failed, queueing frame", zap.Error(err))
		c.teardownLocked(c.conn)
	}

	c.queue = append(c.queue, payload)
	c.ensureConnectedLocked()
	return SendQueued
}

// State reports the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.conn != nil:
		return StateOpen
	case c.connecting || c.reconnectTimer != nil:
		return StateConnecting
	case c.refs > 0:
		return StateClosed
	default:
		return StateIdle
	}
}

// ensureConnectedLocked starts a dial unless a transport already
// exists, a dial is in flight, or a reconnect is already scheduled.
func (c *Client) ensureConnectedLocked() {
	if c.conn != nil || c.connecting || c.reconnectTimer != nil {
		return
	}
	c.connecting = true
	go c.connect()
}

func (c *Client) connect() {
	conn, _, err := c.dialer.Dial(c.addr, nil)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.logger.Warn("dial failed", zap.String("addr", c.addr), zap.Error(err))
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	if c.refs == 0 && len(c.queue) == 0 {
		// Everyone left while we were dialing.
		c.mu.Unlock()
		conn.Close()
		return
	}

	c.conn = conn
	c.backoff = c.opts.BackoffFloor
	c.flushQueueLocked()
	if c.conn == nil {
		// The flush failed and tore the transport down before the read
		// loop existed, so the retry is scheduled here.
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	if c.refs == 0 && c.closeTimer == nil {
		// The dial was driven by queued sends alone. With no subscribers
		// holding the transport, close it after the usual grace period.
		c.closeTimer = time.AfterFunc(c.opts.CloseGrace, c.closeIfUnused)
	}
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	c.logger.Debug("connected", zap.String("addr", c.addr))
	go c.heartbeat(conn, stop)
	go c.readLoop(conn)
}

// flushQueueLocked writes the buffered frames in send order.
func (c *Client) flushQueueLocked() {
	for len(c.queue) > 0 {
		frame := c.queue[0]
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Warn("flush failed, keeping queue", zap.Error(err))
			c.teardownLocked(c.conn)
			return
		}
		c.queue = c.queue[1:]
	}
}

// scheduleReconnectLocked arms the backoff timer and doubles the delay
// for the next failure, up to the ceiling. No-op with zero subscribers.
func (c *Client) scheduleReconnectLocked() {
	if c.refs == 0 || c.reconnectTimer != nil {
		return
	}
	delay := c.backoff
	c.backoff *= 2
	if c.backoff > c.opts.BackoffCeil {
		c.backoff = c.opts.BackoffCeil
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.ensureConnectedLocked()
		c.mu.Unlock()
	})
	c.logger.Debug("reconnect scheduled", zap.Duration("delay", delay))
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.teardownLocked(conn)
			if c.refs > 0 {
				c.scheduleReconnectLocked()
			}
			c.mu.Unlock()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			return
		}
		c.dispatch(raw)
	}
}

// dispatch parses the frame best-effort and fans it out. Malformed
// frames are still delivered with Data nil.
func (c *Client) dispatch(raw []byte) {
	msg := Message{Raw: raw}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err == nil {
		msg.Data = data
	}

	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		c.invoke(l, msg)
	}
}

// invoke shields the read loop from panicking listeners.
func (c *Client) invoke(l Listener, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked", zap.Any("panic", r))
		}
	}()
	l(msg)
}

type heartbeatFrame struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

func (c *Client) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, _ := json.Marshal(heartbeatFrame{Type: "ping", TS: time.Now().UnixMilli()})
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			err := conn.WriteMessage(websocket.TextMessage, frame)
			if err != nil {
				c.logger.Warn("heartbeat failed", zap.Error(err))
				c.teardownLocked(conn)
			}
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// teardownLocked drops the transport if it is still the current one and
// stops the heartbeat. The queue and listeners are untouched; identity
// survives reconnects.
func (c *Client) teardownLocked(conn *websocket.Conn) {
	if c.conn != conn || conn == nil {
		return
	}
	c.conn = nil
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	conn.Close()
}

// closeIfUnused runs when the grace period elapses. A subscriber that
// arrived in the meantime keeps the transport alive.
func (c *Client) closeIfUnused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs > 0 {
		return
	}
	c.closeTimer = nil
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.teardownLocked(c.conn)
	c.backoff = c.opts.BackoffFloor
}

func encodePayload(v interface{}) ([]byte, error) {
	switch p := v.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(v)
	}
}
