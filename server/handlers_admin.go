package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/relay/naming"
	"github.com/onnwee/relay/telemetry"
)

type sendRequest struct {
	Server  string `json:"server" validate:"required"`
	Channel string `json:"channel" validate:"required_without=Nick,excluded_with=Nick"`
	Nick    string `json:"nick"`
	Text    string `json:"text" validate:"required,max=500"`
	Action  bool   `json:"action"`
}

func (req sendRequest) scope() naming.Scope {
	if req.Nick != "" {
		return naming.Private(req.Server, req.Nick)
	}
	return naming.Public(req.Server, req.Channel)
}

type channelRequest struct {
	Channel string `json:"channel" validate:"required"`
}

// HandleSend says a line in a channel or conversation.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scope := req.scope()
	h.control(w, r, "send", scope.Server, func() error {
		return h.sessions.SendOutgoingMessage(scope, req.Text, req.Action)
	})
}

// HandleHighlightSeen acknowledges a highlight.
func (h *Handlers) HandleHighlightSeen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var ok bool
	if !h.do(w, r, func() { ok = h.caches.ReportHighlightAsSeen(id) }) {
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown highlight")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "lineId": id})
}

// HandleConnect starts every session that is neither running nor aborted.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "connect", "", func() error {
		h.sessions.ConnectUnconnected()
		return nil
	})
}

// HandleReconnect restarts a session an operator disconnected.
func (h *Handlers) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	h.control(w, r, "reconnect", server, func() error { return h.sessions.Reconnect(server) })
}

// HandleDisconnect aborts a session.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	h.control(w, r, "disconnect", server, func() error { return h.sessions.Disconnect(server) })
}

// HandleRemoveServer disconnects a session and forgets it.
func (h *Handlers) HandleRemoveServer(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	h.control(w, r, "remove", server, func() error { return h.sessions.Remove(server) })
}

// HandleJoin joins a channel on a connected session.
func (h *Handlers) HandleJoin(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, "join", h.sessions.Join)
}

// HandlePart leaves a channel on a connected session.
func (h *Handlers) HandlePart(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, "part", h.sessions.Part)
}

func (h *Handlers) membership(w http.ResponseWriter, r *http.Request, op string, fn func(server, channel string) error) {
	server := chi.URLParam(r, "server")
	var req channelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.control(w, r, op, server, func() error { return fn(server, req.Channel) })
}

// control runs an operator action on the loop and maps its error.
func (h *Handlers) control(w http.ResponseWriter, r *http.Request, op, server string, fn func() error) {
	var err error
	if !h.do(w, r, func() { err = fn() }) {
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(
		slog.String("component", "http"),
		slog.String("op", op),
		slog.String("server", server))
	if err != nil {
		log.Warn("operator action failed", slog.Any("err", err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	log.Info("operator action")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
