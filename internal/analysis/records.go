package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"procodus.dev/emovision/internal/classifier"
)

// ImageStore persists uploaded image records.
type ImageStore struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewImageStore creates a new ImageStore instance.
func NewImageStore(logger *slog.Logger, db *gorm.DB) (*ImageStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &ImageStore{logger: logger, db: db}, nil
}

// In returns a copy of the store bound to the given transaction handle.
func (s *ImageStore) In(tx *gorm.DB) *ImageStore {
	return &ImageStore{logger: s.logger, db: tx}
}

// Create persists an uploaded image. The content hash is computed here
// so stored images can later be deduplicated or integrity-checked.
func (s *ImageStore) Create(ctx context.Context, filename string, data []byte) (*Image, error) {
	sum := sha256.Sum256(data)

	image := &Image{
		Filename:    filename,
		SizeBytes:   int64(len(data)),
		ContentHash: hex.EncodeToString(sum[:]),
		Data:        data,
	}

	if err := s.db.WithContext(ctx).Create(image).Error; err != nil {
		return nil, fmt.Errorf("failed to create image record: %w", err)
	}

	s.logger.Debug("stored image", "id", image.ID, "filename", filename, "size_bytes", image.SizeBytes)
	return image, nil
}

// EmotionStore persists detected-emotion records.
type EmotionStore struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewEmotionStore creates a new EmotionStore instance.
func NewEmotionStore(logger *slog.Logger, db *gorm.DB) (*EmotionStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &EmotionStore{logger: logger, db: db}, nil
}

// In returns a copy of the store bound to the given transaction handle.
func (s *EmotionStore) In(tx *gorm.DB) *EmotionStore {
	return &EmotionStore{logger: s.logger, db: tx}
}

// Create persists the dominant emotion returned by the classifier.
func (s *EmotionStore) Create(ctx context.Context, name string) (*Emotion, error) {
	emotion := &Emotion{
		Name:       name,
		Score:      nil,
		OccurredAt: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(emotion).Error; err != nil {
		return nil, fmt.Errorf("failed to create emotion record: %w", err)
	}

	return emotion, nil
}

// ResultStore persists structured classification results.
type ResultStore struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewResultStore creates a new ResultStore instance.
func NewResultStore(logger *slog.Logger, db *gorm.DB) (*ResultStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &ResultStore{logger: logger, db: db}, nil
}

// In returns a copy of the store bound to the given transaction handle.
func (s *ResultStore) In(tx *gorm.DB) *ResultStore {
	return &ResultStore{logger: s.logger, db: tx}
}

// Create persists the classification outcome with a human-readable
// summary and the per-label score map serialized as JSON text.
func (s *ResultStore) Create(ctx context.Context, c *classifier.Classification) (*Result, error) {
	outcome := OutcomeNormal
	if c.Target {
		outcome = OutcomeTarget
	}

	scoresJSON, err := serializeScores(c.Scores)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Outcome:       outcome,
		Details:       buildDetails(c),
		TargetScore:   c.TargetScore,
		EmotionScores: scoresJSON,
	}

	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		return nil, fmt.Errorf("failed to create result record: %w", err)
	}

	return result, nil
}

// buildDetails formats the human-readable result summary.
func buildDetails(c *classifier.Classification) string {
	emotion := c.Emotion
	if emotion == "" {
		emotion = "unknown"
	}
	details := fmt.Sprintf("Dominant emotion: %s", emotion)
	if c.TargetScore != nil {
		details += fmt.Sprintf(" | target_score=%.2f", *c.TargetScore)
	}
	return details
}

// serializeScores serializes the score map to JSON text; an empty or
// nil map serializes to the empty string.
func serializeScores(scores map[string]float64) (string, error) {
	if len(scores) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(scores)
	if err != nil {
		return "", fmt.Errorf("failed to serialize emotion scores: %w", err)
	}
	return string(raw), nil
}

// ProcessingLogStore persists append-only audit records, one per
// orchestration attempt.
type ProcessingLogStore struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewProcessingLogStore creates a new ProcessingLogStore instance.
func NewProcessingLogStore(logger *slog.Logger, db *gorm.DB) (*ProcessingLogStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &ProcessingLogStore{logger: logger, db: db}, nil
}

// In returns a copy of the store bound to the given transaction handle.
func (s *ProcessingLogStore) In(tx *gorm.DB) *ProcessingLogStore {
	return &ProcessingLogStore{logger: s.logger, db: tx}
}

// RecordSuccess writes an OK audit row.
func (s *ProcessingLogStore) RecordSuccess(ctx context.Context, message string) (*ProcessingLog, error) {
	return s.record(ctx, LogStatusOK, message)
}

// RecordFailure writes an ERROR audit row.
func (s *ProcessingLogStore) RecordFailure(ctx context.Context, message string) (*ProcessingLog, error) {
	return s.record(ctx, LogStatusError, message)
}

func (s *ProcessingLogStore) record(ctx context.Context, status, message string) (*ProcessingLog, error) {
	entry := &ProcessingLog{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Message:   message,
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create processing log: %w", err)
	}

	return entry, nil
}
