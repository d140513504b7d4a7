// Package server exposes the HTTP surface of deltafeed: blob event intake,
// blob deletion, symbol lookups, cache administration, health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/deltafeed/internal/server/handler"
	"github.com/alanyoungcy/deltafeed/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers. A nil handler
// leaves its routes unregistered.
type Handlers struct {
	Health  *handler.HealthHandler
	Events  *handler.EventsHandler
	Blobs   *handler.BlobsHandler
	Symbols *handler.SymbolsHandler
	Cache   *handler.CacheHandler
	Metrics http.Handler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux behind
// the logging and auth middleware.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler. Without an API key
// only the read and ingest routes are registered.
func NewHandler(cfg Config, handlers Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	if handlers.Events != nil {
		mux.HandleFunc("POST /api/events", handlers.Events.Ingest)
	}

	if handlers.Symbols != nil {
		mux.HandleFunc("GET /api/symbols/{symbol}", handlers.Symbols.GetSymbol)
		mux.HandleFunc("GET /api/symbols/{symbol}/history", handlers.Symbols.ListHistory)
	}

	// Routes that delete blobs or flush the cache exist only behind a key.
	if cfg.APIKey != "" {
		if handlers.Blobs != nil {
			mux.HandleFunc("POST /api/blobs/delete", handlers.Blobs.Delete)
		}
		if handlers.Cache != nil {
			mux.HandleFunc("POST /api/cache/reset", handlers.Cache.Reset)
		}
	} else if handlers.Blobs != nil || handlers.Cache != nil {
		logger.Warn("server: api_key is empty, admin routes are disabled")
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, "/api/health", "/metrics")(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
