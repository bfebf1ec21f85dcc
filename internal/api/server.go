// Package api exposes the bridge over HTTP: a single RPC endpoint carrying
// the wire protocol, an SSE event stream, and a couple of ops endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hostbridge/internal/events"
)

// Submitter accepts one raw request envelope and returns the raw response.
type Submitter interface {
	Submit(ctx context.Context, raw []byte) []byte
}

// Reloader forces a host reload, simulating what the real host does when it
// recompiles and tears the execution tier down.
type Reloader interface {
	Reload(ctx context.Context) error
}

// HealthReporter summarizes the host for the /healthz endpoint.
type HealthReporter interface {
	Health(ctx context.Context) Health
}

// Health is the /healthz response body.
type Health struct {
	Service       string `json:"service"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	Capabilities  int    `json:"capabilities"`
	Reloads       int    `json:"reloads"`
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is an optional bearer token. Empty leaves the API open, which
	// is acceptable only on loopback listens.
	APIKey string
}

// Server is the HTTP front of the bridge.
type Server struct {
	config    Config
	submitter Submitter
	health    HealthReporter
	reloader  Reloader
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New wires a server. Any of health, reloader or hub may be nil; the matching
// endpoints then answer 404 or a minimal body.
func New(config Config, submitter Submitter, health HealthReporter, reloader Reloader, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		submitter: submitter,
		health:    health,
		reloader:  reloader,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes builds the router. Exported so tests can drive handlers through
// httptest without binding a socket.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected surface.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/rpc", s.handleRPC)
		r.Get("/events", s.handleEvents)
		r.Post("/admin/reload", s.handleReload)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
