// Package server exposes the relay over HTTP: health checks and metrics, the
// websocket transport, read-only cache queries and the operator API. Every
// request that touches core state runs as a turn on the relay loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configure the router.
type Options struct {
	AdminToken    string
	AdminUsername string
	AdminPassword string
	CORSOrigins   []string

	// AdminRequests per AdminWindow per client IP on operator endpoints.
	AdminRequests int
	AdminWindow   time.Duration
}

func (o Options) withDefaults() Options {
	if o.AdminRequests <= 0 {
		o.AdminRequests = 30
	}
	if o.AdminWindow <= 0 {
		o.AdminWindow = time.Minute
	}
	return o
}

// NewRouter returns the HTTP handler with all routes.
func NewRouter(h *Handlers, opts Options) http.Handler {
	opts = opts.withDefaults()
	auth := newAuthConfig(opts)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(opts.CORSOrigins))
	r.Use(correlation)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)
	if h.ws != nil {
		r.Handle("/ws", h.ws)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", h.HandleSessions)
		r.Get("/ambiguous", h.HandleAmbiguous)
		r.Get("/cache/channel/{server}/{channel}", h.HandleChannelCache)
		r.Get("/cache/conversation/{server}/{nick}", h.HandleConversationCache)
		r.Get("/cache/user/{name}", h.HandleUserCache)
		r.Get("/cache/category/{name}", h.HandleCategoryCache)
		r.Get("/lastseen", h.HandleLastSeen)
		r.Get("/highlights/{id}/context", h.HandleHighlightContext)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth(auth))
			r.Use(adminRateLimit(opts.AdminRequests, opts.AdminWindow))

			r.Post("/send", h.HandleSend)
			r.Post("/highlights/{id}/seen", h.HandleHighlightSeen)
			r.Post("/connect", h.HandleConnect)
			r.Post("/servers/{server}/reconnect", h.HandleReconnect)
			r.Post("/servers/{server}/disconnect", h.HandleDisconnect)
			r.Post("/servers/{server}/join", h.HandleJoin)
			r.Post("/servers/{server}/part", h.HandlePart)
			r.Delete("/servers/{server}", h.HandleRemoveServer)
		})
	})
	return r
}

// Server runs an http.Server until its context is cancelled.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// New returns a server for handler on addr.
func New(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
}

// Listen binds the listening socket so Addr reports the chosen port before
// Serve is called.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.srv.Addr
}

// Serve listens and serves, shutting down gracefully on context
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.ln

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.String("component", "http"), slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("component", "http"), slog.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.String("component", "http"), slog.Any("err", err))
		return err
	}
	return ctx.Err()
}
