package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"procodus.dev/emovision/internal/classifier"
	"procodus.dev/emovision/pkg/events"
	"procodus.dev/emovision/pkg/metrics"
)

// Classifier is the outbound dependency on the external
// emotion-classification service.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (*classifier.Classification, error)
}

// Service orchestrates the ingestion pipeline and serves the read side
// over persisted analyses.
type Service struct {
	logger     *slog.Logger
	db         *gorm.DB
	devices    *DeviceRegistry
	images     *ImageStore
	emotions   *EmotionStore
	results    *ResultStore
	logs       *ProcessingLogStore
	classifier Classifier
	publisher  events.PublisherInterface // Optional event publisher
	metrics    *metrics.PipelineMetrics  // Optional metrics
}

// ServiceConfig holds the configuration for the Service.
type ServiceConfig struct {
	Logger     *slog.Logger
	DB         *gorm.DB
	Classifier Classifier

	// Publisher is the optional AMQP event publisher; when nil no
	// events are emitted.
	Publisher events.PublisherInterface

	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.PipelineMetrics
}

// NewService creates a new Service instance.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}

	if cfg.Classifier == nil {
		return nil, errors.New("classifier cannot be nil")
	}

	devices, err := NewDeviceRegistry(&DeviceRegistryConfig{
		Logger:  cfg.Logger,
		DB:      cfg.DB,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create device registry: %w", err)
	}

	images, err := NewImageStore(cfg.Logger, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create image store: %w", err)
	}

	emotions, err := NewEmotionStore(cfg.Logger, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create emotion store: %w", err)
	}

	results, err := NewResultStore(cfg.Logger, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create result store: %w", err)
	}

	logs, err := NewProcessingLogStore(cfg.Logger, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create processing log store: %w", err)
	}

	return &Service{
		logger:     cfg.Logger,
		db:         cfg.DB,
		devices:    devices,
		images:     images,
		emotions:   emotions,
		results:    results,
		logs:       logs,
		classifier: cfg.Classifier,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
	}, nil
}

// Create runs one ingestion attempt: validate, resolve the device,
// classify, then persist the image, emotion, result, success log, and
// the linking analysis row inside a single transaction. The classifier
// is called before anything derived from the upload is persisted, so a
// rejected image leaves no orphaned records. A device row created for
// an attempt that later fails is kept; device creation is idempotent.
func (s *Service) Create(ctx context.Context, deviceName, filename string, image []byte) (*Analysis, error) {
	if strings.TrimSpace(deviceName) == "" {
		return nil, fmt.Errorf("%w: device name is required", ErrValidation)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image payload is required", ErrValidation)
	}

	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.PipelineDuration)
		defer timer.ObserveDuration()
	}

	device, err := s.devices.FindOrCreate(ctx, deviceName)
	if err != nil {
		s.failAttempt(ctx, err)
		return nil, err
	}

	classification, err := s.classifier.Classify(ctx, image)
	if err != nil {
		s.logger.Error("classification failed",
			"device", deviceName,
			"error", err,
		)
		s.failAttempt(ctx, err)
		return nil, err
	}

	if filename == "" {
		filename = "image.jpg"
	}

	var analysis *Analysis
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		storedImage, err := s.images.In(tx).Create(ctx, filename, image)
		if err != nil {
			return err
		}

		emotion, err := s.emotions.In(tx).Create(ctx, classification.Emotion)
		if err != nil {
			return err
		}

		result, err := s.results.In(tx).Create(ctx, classification)
		if err != nil {
			return err
		}

		entry, err := s.logs.In(tx).RecordSuccess(ctx, "analysis created successfully")
		if err != nil {
			return err
		}

		analysis = &Analysis{
			Status:          classification.Target,
			DeviceID:        device.ID,
			ImageID:         storedImage.ID,
			EmotionID:       emotion.ID,
			ResultID:        result.ID,
			ProcessingLogID: entry.ID,
		}

		if err := tx.Create(analysis).Error; err != nil {
			return fmt.Errorf("failed to create analysis record: %w", err)
		}

		analysis.Device = *device
		analysis.Image = *storedImage
		analysis.Emotion = *emotion
		analysis.Result = *result
		analysis.ProcessingLog = *entry
		return nil
	})
	if err != nil {
		s.failAttempt(ctx, err)
		return nil, err
	}

	s.logger.Info("analysis created",
		"id", analysis.ID,
		"device", deviceName,
		"emotion", classification.Emotion,
		"target", classification.Target,
	)

	if s.metrics != nil {
		s.metrics.AnalysesCreatedTotal.Inc()
		s.metrics.ImageBytesStored.Add(float64(len(image)))
	}

	s.publishCreated(ctx, analysis)

	return analysis, nil
}

// failAttempt writes the ERROR audit row for a failed attempt and
// tracks the failure category. The audit write is best effort: its own
// failure is logged and swallowed, never escalated over the original
// error.
func (s *Service) failAttempt(ctx context.Context, cause error) {
	if s.metrics != nil {
		s.metrics.PipelineFailuresTotal.WithLabelValues(categorize(cause)).Inc()
	}

	// The request context may already be canceled; the audit trail
	// still gets its row.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := s.logs.RecordFailure(logCtx, cause.Error()); err != nil {
		s.logger.Warn("failed to record failure audit log", "error", err)
	}
}

// categorize maps an error to its pipeline failure category label.
func categorize(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrClassificationData):
		return "invalid_data"
	default:
		return "storage"
	}
}

// publishCreated emits the analysis-created event when a publisher is
// configured. Best effort; a publish failure never fails the upload.
func (s *Service) publishCreated(ctx context.Context, analysis *Analysis) {
	if s.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	event := &events.AnalysisCreated{
		AnalysisID: analysis.ID,
		Device:     analysis.Device.Name,
		Status:     analysis.Status,
		Emotion:    analysis.Emotion.Name,
		CreatedAt:  analysis.CreatedAt,
	}

	if err := s.publisher.PublishAnalysisCreated(pubCtx, event); err != nil {
		s.logger.Warn("failed to publish analysis event",
			"analysis_id", analysis.ID,
			"error", err,
		)
	}
}

// preload returns a query with all analysis associations loaded.
func (s *Service) preload(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Device").
		Preload("Image").
		Preload("Emotion").
		Preload("Result").
		Preload("ProcessingLog")
}

// List returns the projection of every stored analysis. Order is not
// guaranteed.
func (s *Service) List(ctx context.Context) ([]View, error) {
	var analyses []Analysis
	if err := s.preload(ctx).Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	views := make([]View, len(analyses))
	for i := range analyses {
		views[i] = s.toView(&analyses[i])
	}
	return views, nil
}

// Get returns the projection of one analysis, or nil when the id is
// unknown.
func (s *Service) Get(ctx context.Context, id uint) (*View, error) {
	var analysis Analysis
	if err := s.preload(ctx).First(&analysis, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch analysis %d: %w", id, err)
	}

	view := s.toView(&analysis)
	return &view, nil
}

// GetImage returns the raw image bytes submitted at upload time.
func (s *Service) GetImage(ctx context.Context, id uint) ([]byte, error) {
	var analysis Analysis
	if err := s.db.WithContext(ctx).Preload("Image").First(&analysis, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: analysis %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch analysis %d: %w", id, err)
	}

	if analysis.Image.ID == 0 || analysis.Image.Data == nil {
		return nil, fmt.Errorf("%w: analysis %d has no image", ErrNotFound, id)
	}

	return analysis.Image.Data, nil
}

// UpdateStatus mutates only the status flag (and the update timestamp)
// of one analysis. Returns nil when the id is unknown.
func (s *Service) UpdateStatus(ctx context.Context, id uint, status bool) (*View, error) {
	var analysis Analysis
	if err := s.db.WithContext(ctx).First(&analysis, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch analysis %d: %w", id, err)
	}

	if err := s.db.WithContext(ctx).Model(&analysis).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("failed to update analysis %d: %w", id, err)
	}

	return s.Get(ctx, id)
}

// Delete removes one analysis and cascades to its owned image,
// emotion, result, and processing log rows; the device survives.
// Returns false when the id is unknown.
func (s *Service) Delete(ctx context.Context, id uint) (bool, error) {
	var analysis Analysis
	if err := s.db.WithContext(ctx).First(&analysis, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch analysis %d: %w", id, err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Analysis{}, analysis.ID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Image{}, analysis.ImageID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Emotion{}, analysis.EmotionID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Result{}, analysis.ResultID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProcessingLog{}, analysis.ProcessingLogID).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete analysis %d: %w", id, err)
	}

	s.logger.Info("analysis deleted", "id", id)
	return true, nil
}
