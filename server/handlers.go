package server

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/onnwee/relay/chat"
	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/lastseen"
	"github.com/onnwee/relay/naming"
)

// Runner executes fn as a turn on the relay loop and waits for it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// Caches is the read side of the relay engine plus highlight acknowledgement.
type Caches interface {
	ChannelCache(uri string) []event.Event
	UserCache(name string) []event.Event
	CategoryCache(name string) []event.Event
	LastSeenChannels() []lastseen.Channel
	LastSeenUsers() []lastseen.User
	HighlightContext(id string) ([]event.Event, bool)
	ReportHighlightAsSeen(id string) bool
}

// Sessions is the connection manager surface.
type Sessions interface {
	Sessions() []chat.SessionInfo
	Ambiguous() map[string][]string
	SendOutgoingMessage(scope naming.Scope, text string, action bool) error
	ConnectUnconnected()
	Reconnect(server string) error
	Disconnect(server string) error
	Remove(server string) error
	Join(server, channel string) error
	Part(server, channel string) error
}

// Store is what the health checks and session listing read from storage.
type Store interface {
	Ping(ctx context.Context) error
	ConnectionStatus(ctx context.Context, server string) (string, error)
}

// Handlers holds dependencies for all HTTP handlers. Caches and Sessions are
// only touched inside loop turns.
type Handlers struct {
	loop     Runner
	caches   Caches
	sessions Sessions
	store    Store
	ws       http.Handler
	validate *validator.Validate
}

// NewHandlers wires the handlers. ws may be nil when the websocket transport
// is served elsewhere.
func NewHandlers(loop Runner, caches Caches, sessions Sessions, store Store, ws http.Handler) *Handlers {
	return &Handlers{
		loop:     loop,
		caches:   caches,
		sessions: sessions,
		store:    store,
		ws:       ws,
		validate: validator.New(),
	}
}

// do runs fn on the loop, answering 503 when the loop is gone or the client
// went away first.
func (h *Handlers) do(w http.ResponseWriter, r *http.Request, fn func()) bool {
	if err := h.loop.Do(r.Context(), fn); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return false
	}
	return true
}
