// Package api provides the HTTP API for uploading images and reading
// persisted analyses.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"procodus.dev/emovision/internal/analysis"
	"procodus.dev/emovision/pkg/metrics"
)

// AnalysisService defines the pipeline and read-side operations the
// API depends on. This interface enables easier testing through
// mocking and dependency injection.
type AnalysisService interface {
	Create(ctx context.Context, deviceName, filename string, image []byte) (*analysis.Analysis, error)
	List(ctx context.Context) ([]analysis.View, error)
	Get(ctx context.Context, id uint) (*analysis.View, error)
	GetImage(ctx context.Context, id uint) ([]byte, error)
	UpdateStatus(ctx context.Context, id uint, status bool) (*analysis.View, error)
	Delete(ctx context.Context, id uint) (bool, error)
}

// Server represents the HTTP API server.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	service    AnalysisService
	config     *ServerConfig
	metrics    *metrics.APIMetrics // Optional metrics
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTPPort is the listen port for the API.
	HTTPPort int

	// Service handles uploads and retrieval.
	Service AnalysisService

	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.APIMetrics
}

// NewServer creates a new API Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.Service == nil {
		return nil, errors.New("analysis service cannot be nil")
	}

	return &Server{
		logger:  cfg.Logger,
		service: cfg.Service,
		config:  cfg,
		metrics: cfg.Metrics,
	}, nil
}

// Run starts the API server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting api server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("api server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down api server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	s.logger.Info("api server shutdown completed successfully")
	return nil
}

// Handler returns the fully routed HTTP handler. Useful for tests and
// for mounting the API inside an existing server.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// CORS preflight for browser clients; method-qualified patterns
	// would otherwise answer OPTIONS with a bare 405.
	mux.HandleFunc("OPTIONS /", s.handlePreflight)

	// Analysis endpoints
	mux.Handle("POST /analyses/upload", s.instrument("/analyses/upload", s.handleUpload))
	mux.Handle("GET /analyses", s.instrument("/analyses", s.handleList))
	mux.Handle("GET /analyses/{id}", s.instrument("/analyses/{id}", s.handleGet))
	mux.Handle("GET /analyses/{id}/image", s.instrument("/analyses/{id}/image", s.handleGetImage))
	mux.Handle("PUT /analyses/{id}", s.instrument("/analyses/{id}", s.handleUpdateStatus))
	mux.Handle("DELETE /analyses/{id}", s.instrument("/analyses/{id}", s.handleDelete))

	return mux
}
