// Package realtime is the viewer transport: a WebSocket hub that carries
// subscribe requests into the relay loop and pushes relay events back out.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/onnwee/relay/plugin"
	"github.com/onnwee/relay/registry"
)

// Message is one frame in either direction.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"
)

// Request is the payload of subscribe and unsubscribe frames.
type Request struct {
	Type  string         `json:"type"`
	Space registry.Space `json:"space"`
	Key   string         `json:"key"`
}

// ErrorData is sent back for rejected requests.
type ErrorData struct {
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

// Core is what the hub drives on the loop. *relay.Engine implements it.
type Core interface {
	Subscribe(h registry.Handle, space registry.Space, key string) bool
	Unsubscribe(h registry.Handle, space registry.Space, key string) bool
	RemoveConnection(h registry.Handle) int
}

// Option configures a Hub.
type Option func(*Hub)

// WithHooks fires HookClient on every new connection.
func WithHooks(d *plugin.Dispatcher) Option { return func(h *Hub) { h.hooks = d } }

// WithCheckOrigin replaces the upgrader's origin check.
func WithCheckOrigin(f func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = f }
}

// Hub owns the live connections. EmitDirect and Broadcast are safe to call
// from the loop; requests from connections are posted to the loop.
type Hub struct {
	post  func(func()) error
	core  Core
	hooks *plugin.Dispatcher

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.RWMutex
	clients map[registry.Handle]*Client
	closed  bool
}

// NewHub returns a hub that runs core calls through post.
func NewHub(post func(func()) error, opts ...Option) *Hub {
	h := &Hub{
		post:     post,
		clients:  make(map[registry.Handle]*Client),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Bind sets the core. It must be called before the hub serves connections.
func (h *Hub) Bind(core Core) { h.core = core }

// ServeHTTP upgrades the request and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("component", "realtime"), slog.Any("err", err))
		return
	}
	c := newClient(h, registry.Handle(h.nextID.Add(1)), conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.handle] = c
	total := len(h.clients)
	h.mu.Unlock()

	slog.Info("websocket client connected", slog.String("component", "realtime"), slog.Uint64("handle", uint64(c.handle)), slog.Int("total_clients", total))
	h.hooks.Fire(plugin.HookClient, plugin.Payload{Text: r.RemoteAddr})
	c.start()
}

// EmitDirect sends name/payload to one connection. Unknown handles are
// ignored.
func (h *Hub) EmitDirect(handle registry.Handle, name string, payload any) {
	h.mu.RLock()
	c := h.clients[handle]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	h.deliver(c, Message{Type: name, Data: payload})
}

// Broadcast sends name/payload to every connection in handle order.
func (h *Hub) Broadcast(name string, payload any) {
	h.mu.RLock()
	cs := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.RUnlock()
	sort.Slice(cs, func(i, j int) bool { return cs[i].handle < cs[j].handle })
	msg := Message{Type: name, Data: payload}
	for _, c := range cs {
		h.deliver(c, msg)
	}
}

func (h *Hub) deliver(c *Client, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("encode websocket message", slog.String("component", "realtime"), slog.String("type", msg.Type), slog.Any("err", err))
		return
	}
	if !c.enqueue(b) {
		slog.Warn("websocket client too slow, disconnecting", slog.String("component", "realtime"), slog.Uint64("handle", uint64(c.handle)))
		c.drop()
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// unregister drops c and tells the core. It is idempotent.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.handle]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.handle)
	total := len(h.clients)
	h.mu.Unlock()
	c.close()

	slog.Info("websocket client disconnected", slog.String("component", "realtime"), slog.Uint64("handle", uint64(c.handle)), slog.Int("total_clients", total))
	h.toCore(func(core Core) { core.RemoveConnection(c.handle) })
}

func (h *Hub) toCore(fn func(Core)) {
	core := h.core
	if core == nil {
		return
	}
	if err := h.post(func() { fn(core) }); err != nil {
		slog.Debug("loop unavailable", slog.String("component", "realtime"), slog.Any("err", err))
	}
}

// handle runs one inbound request.
func (h *Hub) handle(c *Client, req Request) {
	switch req.Type {
	case TypePing:
		h.deliver(c, Message{Type: TypePong})
	case TypeSubscribe, TypeUnsubscribe:
		h.toCore(func(core Core) {
			var ok bool
			if req.Type == TypeSubscribe {
				ok = core.Subscribe(c.handle, req.Space, req.Key)
			} else {
				ok = core.Unsubscribe(c.handle, req.Space, req.Key)
			}
			if !ok {
				h.deliver(c, Message{Type: TypeError, Data: ErrorData{Message: "invalid subscription", Request: req.Type}})
			}
		})
	default:
		h.deliver(c, Message{Type: TypeError, Data: ErrorData{Message: "unknown message type", Request: req.Type}})
	}
}

// Serve blocks until ctx is done, then closes every connection.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	cs := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.Unlock()
	slog.Info("websocket hub shutting down", slog.String("component", "realtime"), slog.Int("clients", len(cs)))
	for _, c := range cs {
		h.unregister(c)
	}
	return ctx.Err()
}
