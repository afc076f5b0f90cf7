// Package gateway exposes the Omega HTTP API: conversation CRUD, the
// streaming message endpoint, health, and metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tpmjs/omega/internal/auth"
	"github.com/tpmjs/omega/internal/executor"
	"github.com/tpmjs/omega/internal/observability"
	"github.com/tpmjs/omega/internal/omega"
	"github.com/tpmjs/omega/internal/storage"
)

// Version is stamped at build time.
var Version = "dev"

// Config holds the HTTP server settings.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Server is the Omega API front end.
type Server struct {
	cfg        Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	orch       *omega.Orchestrator
	stores     storage.StoreSet
	authSvc    *auth.Service
	execClient *executor.Client
	httpServer *http.Server
}

// New assembles the HTTP server around the orchestrator and its stores.
func New(
	cfg Config,
	orch *omega.Orchestrator,
	stores storage.StoreSet,
	authSvc *auth.Service,
	execClient *executor.Client,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		orch:       orch,
		stores:     stores,
		authSvc:    authSvc,
		execClient: execClient,
	}
}

// Handler builds the full route tree with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /conversations/{id}/messages", s.handlePostMessage)

	var handler http.Handler = mux
	handler = auth.Middleware(s.authSvc)(handler)
	handler = s.metricsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info(shutdownCtx, "http server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
