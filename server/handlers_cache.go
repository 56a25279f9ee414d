package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/relay/chat"
	"github.com/onnwee/relay/event"
	"github.com/onnwee/relay/lastseen"
	"github.com/onnwee/relay/naming"
	"github.com/onnwee/relay/registry"
	"github.com/onnwee/relay/telemetry"
)

type sessionView struct {
	chat.SessionInfo
	LastStatus string `json:"lastStatus,omitempty"`
}

// HandleSessions lists sessions with the last persisted connection status.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	var infos []chat.SessionInfo
	if !h.do(w, r, func() { infos = h.sessions.Sessions() }) {
		return
	}
	out := make([]sessionView, len(infos))
	for i, info := range infos {
		out[i].SessionInfo = info
		status, err := h.store.ConnectionStatus(r.Context(), info.Server)
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Warn("load connection status failed",
				slog.String("component", "http"), slog.String("server", info.Server), slog.Any("err", err))
			continue
		}
		out[i].LastStatus = status
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleAmbiguous returns channel names joined on more than one server.
func (h *Handlers) HandleAmbiguous(w http.ResponseWriter, r *http.Request) {
	var out map[string][]string
	if !h.do(w, r, func() { out = h.sessions.Ambiguous() }) {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleChannelCache returns the cached lines of one channel.
func (h *Handlers) HandleChannelCache(w http.ResponseWriter, r *http.Request) {
	scope := naming.Public(chi.URLParam(r, "server"), chi.URLParam(r, "channel"))
	h.writeCache(w, r, scope.URI(), func() []event.Event { return h.caches.ChannelCache(scope.URI()) })
}

// HandleConversationCache returns the cached lines of a private conversation.
func (h *Handlers) HandleConversationCache(w http.ResponseWriter, r *http.Request) {
	scope := naming.Private(chi.URLParam(r, "server"), chi.URLParam(r, "nick"))
	h.writeCache(w, r, scope.URI(), func() []event.Event { return h.caches.ChannelCache(scope.URI()) })
}

// HandleUserCache returns the cached lines of one friend.
func (h *Handlers) HandleUserCache(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "name"))
	h.writeCache(w, r, name, func() []event.Event { return h.caches.UserCache(name) })
}

// HandleCategoryCache returns a category cache. Unknown categories are 404.
func (h *Handlers) HandleCategoryCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !registry.IsCategory(name) {
		writeError(w, http.StatusNotFound, "unknown category")
		return
	}
	h.writeCache(w, r, name, func() []event.Event { return h.caches.CategoryCache(name) })
}

func (h *Handlers) writeCache(w http.ResponseWriter, r *http.Request, key string, get func() []event.Event) {
	var events []event.Event
	if !h.do(w, r, func() { events = get() }) {
		return
	}
	if limit := parseIntQuery(r, "limit", 0); limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "events": events})
}

// HandleLastSeen returns every last-seen record.
func (h *Handlers) HandleLastSeen(w http.ResponseWriter, r *http.Request) {
	var channels []lastseen.Channel
	var users []lastseen.User
	if !h.do(w, r, func() {
		channels = h.caches.LastSeenChannels()
		users = h.caches.LastSeenUsers()
	}) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels, "users": users})
}

// HandleHighlightContext returns the lines captured before a highlight.
func (h *Handlers) HandleHighlightContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var events []event.Event
	var ok bool
	if !h.do(w, r, func() { events, ok = h.caches.HighlightContext(id) }) {
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no context for highlight")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lineId": id, "events": events})
}
