package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prxgr4mmer/perps-metrics-service/internal/config"
	"github.com/prxgr4mmer/perps-metrics-service/pkg/metrics"
)

// Server wraps the HTTP server with graceful shutdown
type Server struct {
	server *http.Server
	stream *SnapshotBroadcaster
	logger *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.ServerConfig,
	deps HandlerDeps,
	recorder *metrics.Recorder,
	logger *slog.Logger,
) *Server {
	handler := NewHandler(deps, logger)
	stream := NewSnapshotBroadcaster(deps.Snapshots, cfg.AllowedOrigins, cfg.StreamPingInterval, recorder, logger)
	router := NewRouter(handler, stream, recorder, cfg.AllowedOrigins, logger)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		stream: stream,
		logger: logger.With("component", "http_server"),
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server", "stream_clients", s.stream.Clients())

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.server.Addr
}
