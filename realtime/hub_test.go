package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/relay/loop"
	"github.com/onnwee/relay/plugin"
	"github.com/onnwee/relay/registry"
)

type call struct {
	op     string
	handle registry.Handle
	space  registry.Space
	key    string
}

// fakeCore echoes a snapshot on subscribe the way the relay engine does.
type fakeCore struct {
	mu    sync.Mutex
	hub   *Hub
	calls []call
}

func (f *fakeCore) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeCore) Subscribe(h registry.Handle, space registry.Space, key string) bool {
	f.record(call{"subscribe", h, space, key})
	if !space.Valid() || key == "" {
		return false
	}
	f.hub.EmitDirect(h, "cache", map[string]string{"key": key})
	return true
}

func (f *fakeCore) Unsubscribe(h registry.Handle, space registry.Space, key string) bool {
	f.record(call{"unsubscribe", h, space, key})
	return space.Valid()
}

func (f *fakeCore) RemoveConnection(h registry.Handle) int {
	f.record(call{"remove", h, "", ""})
	return 0
}

func (f *fakeCore) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return out
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, *fakeCore, string) {
	t.Helper()
	hub := NewHub(loop.Inline(), opts...)
	core := &fakeCore{hub: hub}
	hub.Bind(core)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, core, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func TestSubscribeGetsSnapshot(t *testing.T) {
	hub, core, url := newTestHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	send(t, conn, Request{Type: TypeSubscribe, Space: registry.SpaceChannel, Key: "twitch/chan"})
	m := read(t, conn)
	assert.Equal(t, "cache", m.Type)
	assert.Equal(t, map[string]any{"key": "twitch/chan"}, m.Data)
	assert.Equal(t, []string{"subscribe"}, core.ops())
}

func TestInvalidRequests(t *testing.T) {
	_, _, url := newTestHub(t)
	conn := dial(t, url)

	send(t, conn, Request{Type: TypeSubscribe, Space: "bogus", Key: "x"})
	m := read(t, conn)
	assert.Equal(t, TypeError, m.Type)

	send(t, conn, Request{Type: "dance"})
	m = read(t, conn)
	assert.Equal(t, TypeError, m.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	m = read(t, conn)
	assert.Equal(t, TypeError, m.Type)
}

func TestPingPong(t *testing.T) {
	_, _, url := newTestHub(t)
	conn := dial(t, url)
	send(t, conn, Request{Type: TypePing})
	assert.Equal(t, TypePong, read(t, conn).Type)
}

func TestBroadcastAndDirect(t *testing.T) {
	hub, _, url := newTestHub(t)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("connectionStatus", map[string]string{"server": "twitch", "status": "connected"})
	assert.Equal(t, "connectionStatus", read(t, a).Type)
	assert.Equal(t, "connectionStatus", read(t, b).Type)

	hub.EmitDirect(registry.Handle(999), "ignored", nil)
}

func TestCloseRemovesConnection(t *testing.T) {
	hub, core, url := newTestHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, core.ops(), "remove")
}

func TestClientHookFires(t *testing.T) {
	d := plugin.NewDispatcher(time.Second)
	var mu sync.Mutex
	fired := 0
	d.On(plugin.HookClient, func(context.Context, plugin.Payload) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	hub, _, url := newTestHub(t, WithHooks(d))
	dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	d.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
}

func TestServeClosesClients(t *testing.T) {
	hub, core, url := newTestHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Zero(t, hub.Count())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Contains(t, core.ops(), "remove")
}

// serverConn returns the server side of a fresh websocket connection.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)
	dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	select {
	case c := <-conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no server connection")
		return nil
	}
}

func TestSlowClientDroppedWithoutBlockingLoop(t *testing.T) {
	l := loop.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Serve(ctx) }()

	hub := NewHub(l.Post)
	core := &fakeCore{hub: hub}
	hub.Bind(core)

	c := newClient(hub, registry.Handle(1), serverConn(t))
	hub.mu.Lock()
	hub.clients[c.handle] = c
	hub.mu.Unlock()
	for i := 0; i < sendBuffer; i++ {
		c.send <- []byte("{}")
	}

	turnDone := make(chan struct{})
	require.NoError(t, l.Post(func() {
		defer close(turnDone)
		// Fill the queue so any Post from this turn would block.
		_ = l.Post(func() {})
		hub.EmitDirect(c.handle, "channelEvent", map[string]string{"lineId": "m1"})
	}))
	select {
	case <-turnDone:
	case <-time.After(2 * time.Second):
		t.Fatal("loop turn blocked while dropping a slow client")
	}

	select {
	case <-c.done:
	default:
		t.Fatal("slow client was not closed")
	}

	go c.readPump()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"remove"}, core.ops())
	}, 2*time.Second, 5*time.Millisecond)
}
