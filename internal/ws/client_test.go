package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testServer is a minimal notification endpoint: it records inbound
// frames and can push frames to the most recent connection.
type testServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received [][]byte
	upgrades int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&ts.upgrades, 1)
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.received = append(ts.received, msg)
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) upgradeCount() int {
	return int(atomic.LoadInt32(&ts.upgrades))
}

func (ts *testServer) push(t *testing.T, frame string) {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NotEmpty(t, ts.conns, "no connection to push to")
	conn := ts.conns[len(ts.conns)-1]
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (ts *testServer) dropAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		c.Close()
	}
	ts.conns = nil
}

func (ts *testServer) frames() [][]byte {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([][]byte, len(ts.received))
	copy(out, ts.received)
	return out
}

func testOptions() Options {
	return Options{
		Heartbeat:    time.Hour, // out of the way unless a test wants it
		BackoffFloor: 10 * time.Millisecond,
		BackoffCeil:  80 * time.Millisecond,
		CloseGrace:   40 * time.Millisecond,
		DialTimeout:  time.Second,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubscribeDeliversParsedFrames(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	var mu sync.Mutex
	var got []Message
	unsub := c.Subscribe(func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	defer unsub()

	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")
	ts.push(t, `{"type":"notification","id":"n1"}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "frame never delivered")

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got[0].Data)
	assert.Equal(t, "notification", got[0].Data["type"])
	assert.Equal(t, "n1", got[0].Data["id"])
}

func TestMalformedFrameStillDelivered(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	var mu sync.Mutex
	var got []Message
	unsub := c.Subscribe(func(m Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	defer unsub()

	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")
	ts.push(t, `this is not json {`)
	ts.push(t, `{"ok":true}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "delivery stopped after malformed frame")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte(`this is not json {`), got[0].Raw)
	assert.Nil(t, got[0].Data, "malformed frame must carry no parsed payload")
	require.NotNil(t, got[1].Data)
	assert.Equal(t, true, got[1].Data["ok"])
}

func TestPanickingListenerDoesNotStopDelivery(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	var delivered int32
	unsub1 := c.Subscribe(func(Message) { panic("listener bug") })
	unsub2 := c.Subscribe(func(Message) { atomic.AddInt32(&delivered, 1) })
	defer unsub1()
	defer unsub2()

	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")
	ts.push(t, `{"a":1}`)
	ts.push(t, `{"a":2}`)

	waitFor(t, func() bool { return atomic.LoadInt32(&delivered) == 2 }, "delivery stopped after listener panic")
}

func TestReferenceCountingClosesOnceAfterGrace(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	var unsubs []func()
	for i := 0; i < 3; i++ {
		unsubs = append(unsubs, c.Subscribe(func(Message) {}))
	}
	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")

	for _, u := range unsubs {
		u()
	}
	waitFor(t, func() bool { return c.State() == StateIdle }, "transport never closed after grace period")
	assert.Equal(t, 1, ts.upgradeCount(), "transport must have been created exactly once")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	unsub1 := c.Subscribe(func(Message) {})
	unsub2 := c.Subscribe(func(Message) {})
	unsub1()
	unsub1() // second call must not steal unsub2's reference

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateOpen, c.State(), "remaining subscriber lost the transport")
	unsub2()
}

func TestResubscribeWithinGraceKeepsTransport(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	unsub := c.Subscribe(func(Message) {})
	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")

	unsub()
	unsub2 := c.Subscribe(func(Message) {})
	defer unsub2()

	// Well past the grace period: the pending close must have been
	// cancelled and no second dial attempted.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, 1, ts.upgradeCount(), "transport was recreated inside the grace window")
}

func TestQueuedSendsFlushInOrder(t *testing.T) {
	ts := newTestServer(t)
	opts := testOptions()
	// Slow reconnect so the sends below happen while disconnected.
	opts.BackoffFloor = 60 * time.Millisecond
	c := NewClient(ts.wsURL(), opts, zap.NewNop())

	unsub := c.Subscribe(func(Message) {})
	defer unsub()
	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")

	ts.dropAll()
	waitFor(t, func() bool { return c.State() != StateOpen }, "client never noticed the drop")

	assert.Equal(t, SendQueued, c.Send(`{"seq":1}`))
	assert.Equal(t, SendQueued, c.Send(`{"seq":2}`))
	assert.Equal(t, SendQueued, c.Send(`{"seq":3}`))

	waitFor(t, func() bool { return len(ts.frames()) >= 3 }, "queued frames never flushed")

	var seqs []float64
	for _, f := range ts.frames() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(f, &m))
		seqs = append(seqs, m["seq"].(float64))
	}
	assert.Equal(t, []float64{1, 2, 3}, seqs, "flush must preserve send order")
}

func TestSendWhileOpenDeliversImmediately(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	unsub := c.Subscribe(func(Message) {})
	defer unsub()
	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")

	assert.Equal(t, SendDelivered, c.Send(map[string]interface{}{"hello": "world"}))
	waitFor(t, func() bool { return len(ts.frames()) == 1 }, "frame never arrived")
}

func TestSendWithoutSubscribersClosesAfterGrace(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	// No one ever subscribes; the queued frame alone drives the dial.
	assert.Equal(t, SendQueued, c.Send(`{"seq":1}`))
	waitFor(t, func() bool { return len(ts.frames()) == 1 }, "queued frame never flushed")

	// With zero references the transport must not outlive the grace
	// period just because a send opened it.
	waitFor(t, func() bool { return c.State() == StateIdle }, "orphan-send transport never closed")
	assert.Equal(t, 1, ts.upgradeCount())
}

func TestBackoffDoublesToCeilingAndResetsOnOpen(t *testing.T) {
	opts := testOptions()
	c := NewClient("ws://127.0.0.1:1", opts, zap.NewNop()) // nothing listens here
	c.mu.Lock()
	c.refs = 1
	c.mu.Unlock()

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		c.mu.Lock()
		delays = append(delays, c.backoff)
		c.scheduleReconnectLocked()
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
		c.mu.Unlock()
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		80 * time.Millisecond, // capped
	}, delays)

	// A successful open reverts the delay to the floor.
	ts := newTestServer(t)
	c2 := NewClient(ts.wsURL(), opts, zap.NewNop())
	c2.mu.Lock()
	c2.backoff = opts.BackoffCeil
	c2.mu.Unlock()

	unsub := c2.Subscribe(func(Message) {})
	defer unsub()
	waitFor(t, func() bool { return c2.State() == StateOpen }, "client never connected")

	c2.mu.Lock()
	defer c2.mu.Unlock()
	assert.Equal(t, opts.BackoffFloor, c2.backoff)
}

func TestReconnectAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	unsub := c.Subscribe(func(Message) {})
	defer unsub()
	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")

	ts.dropAll()
	waitFor(t, func() bool { return ts.upgradeCount() == 2 && c.State() == StateOpen },
		"client never reconnected")
}

func TestNoReconnectWithoutSubscribers(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), testOptions(), zap.NewNop())

	unsub := c.Subscribe(func(Message) {})
	waitFor(t, func() bool { return c.State() == StateOpen }, "client never connected")
	unsub()
	waitFor(t, func() bool { return c.State() == StateIdle }, "transport never closed")

	ts.dropAll()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, ts.upgradeCount(), "idle client must not reconnect")
}

func TestHeartbeatFrames(t *testing.T) {
	opts := testOptions()
	opts.Heartbeat = 15 * time.Millisecond
	ts := newTestServer(t)
	c := NewClient(ts.wsURL(), opts, zap.NewNop())

	unsub := c.Subscribe(func(Message) {})
	defer unsub()

	waitFor(t, func() bool { return len(ts.frames()) >= 2 }, "no heartbeat frames arrived")

	var frame heartbeatFrame
	require.NoError(t, json.Unmarshal(ts.frames()[0], &frame))
	assert.Equal(t, "ping", frame.Type)
	assert.Greater(t, frame.TS, int64(0))
}
