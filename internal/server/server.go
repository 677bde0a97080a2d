// Package server exposes the optional HTTP status surface: health, runtime
// status, Prometheus metrics and an on-demand market sync trigger.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/oraclebot/internal/domain"
	"github.com/alanyoungcy/oraclebot/internal/server/handler"
	"github.com/alanyoungcy/oraclebot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the POST routes. Empty disables authentication.
	APIKey string
	// SyncLimit requests per SyncWindow are allowed per client on the sync
	// routes when a rate limiter is supplied.
	SyncLimit  int
	SyncWindow time.Duration
}

// Handlers aggregates the handlers the server registers. Sync, Evidence and
// Metrics are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Sync     *handler.SyncHandler
	Evidence *handler.EvidenceHandler
	Metrics  http.Handler
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and wraps them in logging and CORS. limiter
// may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if handlers.Evidence != nil {
		mux.HandleFunc("GET /api/evidence/{hash}", handlers.Evidence.GetEvidence)
	}

	if handlers.Sync != nil {
		guard := middleware.Auth(cfg.APIKey)
		if limiter != nil && cfg.SyncLimit > 0 {
			window := cfg.SyncWindow
			if window <= 0 {
				window = time.Minute
			}
			limit := middleware.RateLimit(limiter, "api:sync", cfg.SyncLimit, window, logger)
			auth := guard
			guard = func(next http.Handler) http.Handler { return auth(limit(next)) }
		}
		mux.Handle("POST /api/sync", guard(http.HandlerFunc(handlers.Sync.SyncAll)))
		mux.Handle("POST /api/sync/{marketplace}/{id}", guard(http.HandlerFunc(handlers.Sync.SyncOne)))
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones within the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
