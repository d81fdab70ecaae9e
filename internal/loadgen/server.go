package loadgen

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/emovision/pkg/metrics"
)

// ServerConfig holds the configuration for the load generator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// TargetURL is the upload endpoint of a running API server
	TargetURL string
	// Interval is the time between uploads per worker
	Interval time.Duration
	// WorkerCount is the number of concurrent upload workers
	WorkerCount int
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.LoadgenMetrics
}

// Server manages multiple upload workers.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	uploaders []*Uploader
	wg        sync.WaitGroup
	metrics   *metrics.LoadgenMetrics
}

var (
	errInvalidWorkerCount = errors.New("worker count must be greater than 0")
	errInvalidInterval    = errors.New("interval must be greater than 0")
	errTargetURLRequired  = errors.New("target URL is required")
	errLoggerRequired     = errors.New("logger is required")
)

// NewServer creates a new load generator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.WorkerCount <= 0 {
		return nil, errInvalidWorkerCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.TargetURL == "" {
		return nil, errTargetURLRequired
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	s := &Server{
		config:    cfg,
		uploaders: make([]*Uploader, 0, cfg.WorkerCount),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		uploader := NewUploader(cfg.Logger.With(
			slog.String("component", "uploader"),
			slog.Int("worker_id", i),
		), cfg.TargetURL)

		if cfg.Metrics != nil {
			uploader.SetMetrics(cfg.Metrics)
		}

		s.uploaders = append(s.uploaders, uploader)

		s.logger.Info("created upload worker",
			"worker_id", i,
			"target_url", cfg.TargetURL,
			"device_count", len(uploader.Devices()),
		)
	}

	return s, nil
}

// Run starts all upload workers and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting load generator",
		"worker_count", s.config.WorkerCount,
		"interval", s.config.Interval,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	for i, uploader := range s.uploaders {
		s.wg.Add(1)
		go s.runWorker(ctx, i, uploader)
	}

	if s.metrics != nil {
		s.metrics.ActiveWorkers.Set(float64(len(s.uploaders)))
	}

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	}

	s.wg.Wait()

	if s.metrics != nil {
		s.metrics.ActiveWorkers.Set(0)
	}

	s.logger.Info("load generator stopped")
	return nil
}

// runWorker uploads on a fixed interval until the context is canceled.
func (s *Server) runWorker(ctx context.Context, id int, uploader *Uploader) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("worker stopping", "worker_id", id)
			return
		case <-ticker.C:
			if err := uploader.UploadOnce(ctx); err != nil {
				s.logger.Error("synthetic upload failed",
					"worker_id", id,
					"error", err,
				)
			}
		}
	}
}
