// Package server exposes the board over HTTP.
//
// Transcript events enter through POST /v1/sessions/{id}/events or a
// WebSocket at /v1/sessions/{id}/ws, which also pushes a graph snapshot
// after every change. Imperative UI commands (rename, move, delete) go
// straight to the store without touching the analysis pipeline.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/featureboard/internal/graph"
	"github.com/MrWong99/featureboard/internal/health"
	"github.com/MrWong99/featureboard/internal/observe"
	"github.com/MrWong99/featureboard/internal/session"
)

// shutdownTimeout bounds graceful shutdown once the serving context ends.
const shutdownTimeout = 10 * time.Second

// Config wires a [Server]. Store and Sessions are required.
type Config struct {
	Store    *graph.Store
	Sessions *session.Manager

	// Health, if set, serves /healthz and /readyz.
	Health *health.Handler

	// Metrics records HTTP and subscriber metrics. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler, if set, is mounted at GET /metrics.
	MetricsHandler http.Handler

	// AllowedOrigins lists extra host patterns accepted for cross-origin
	// WebSocket upgrades, e.g. "localhost:5173".
	AllowedOrigins []string

	// MCP, if set, is mounted at MCPPath (default "/mcp").
	MCP     http.Handler
	MCPPath string
}

// Server is the HTTP front end.
type Server struct {
	store    *graph.Store
	sessions *session.Manager
	metrics  *observe.Metrics
	origins  []string
	handler  http.Handler
}

// New builds the routes for cfg.
func New(cfg Config) *Server {
	s := &Server{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		metrics:  cfg.Metrics,
		origins:  cfg.AllowedOrigins,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/graph", s.handleGraph)
	mux.HandleFunc("GET /v1/graph/export", s.handleExport)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions/{id}/events", s.handleEvent)
	mux.HandleFunc("POST /v1/sessions/{id}/flush", s.handleFlush)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleWebSocket)
	mux.HandleFunc("PATCH /v1/features/{id}", s.handlePatchFeature)
	mux.HandleFunc("DELETE /v1/features/{id}", s.handleDeleteFeature)
	mux.HandleFunc("PATCH /v1/capabilities/{id}", s.handlePatchCapability)
	mux.HandleFunc("DELETE /v1/capabilities/{id}", s.handleDeleteCapability)

	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	if cfg.MCP != nil {
		path := cfg.MCPPath
		if path == "" {
			path = "/mcp"
		}
		mux.Handle(path, cfg.MCP)
	}

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler with tracing and metrics middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. TLS is used when both certFile and keyFile are set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr, "tls", certFile != "")
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
