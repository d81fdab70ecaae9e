// Package analysis provides the emotion-analysis ingestion pipeline:
// gorm models, per-record stores, the orchestrating service, and the
// read-side projection over persisted analyses.
package analysis

import (
	"time"
)

// Device represents a camera or sensor device that submits images.
// Devices are created lazily on first upload and are never deleted
// by the ingestion pipeline.
type Device struct {
	Name      string    `gorm:"uniqueIndex;not null"`
	Type      string    `gorm:"not null"`
	Location  string
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Device model.
func (Device) TableName() string {
	return "devices"
}

// Image represents an uploaded photo. Immutable once created and owned
// by exactly one Analysis.
type Image struct {
	Filename    string    `gorm:"not null"`
	SizeBytes   int64     `gorm:"not null"`
	ContentHash string
	Data        []byte    `gorm:"type:bytes;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	ID          uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Image model.
func (Image) TableName() string {
	return "images"
}

// Emotion represents the dominant emotion detected for one analysis.
// One row per analysis; rows are not shared between analyses.
type Emotion struct {
	Name       string    `gorm:"not null"`
	Score      *float64
	OccurredAt time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
	ID         uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Emotion model.
func (Emotion) TableName() string {
	return "emotions"
}

// Result outcome values.
const (
	OutcomeTarget = "Target"
	OutcomeNormal = "Normal"
)

// Result represents the structured classification result for one analysis.
// EmotionScores holds the per-label score map serialized as JSON text;
// it is empty when the classifier returned no score map.
type Result struct {
	Outcome       string    `gorm:"not null"`
	Details       string    `gorm:"not null"`
	TargetScore   *float64
	EmotionScores string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
	ID            uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Result model.
func (Result) TableName() string {
	return "results"
}

// ProcessingLog status values.
const (
	LogStatusOK    = "OK"
	LogStatusError = "ERROR"
)

// ProcessingLog is an append-only audit record of one orchestration
// attempt. A row is written for every attempt, success or failure,
// independent of whether an Analysis was created.
type ProcessingLog struct {
	Timestamp time.Time `gorm:"index;not null"`
	Status    string    `gorm:"not null"`
	Message   string
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the ProcessingLog model.
func (ProcessingLog) TableName() string {
	return "processing_logs"
}

// Analysis is the aggregate root linking one device, image, emotion,
// result, and processing log. A row exists only when classification
// succeeded and all four child records were persisted.
type Analysis struct {
	Status          bool      `gorm:"not null"`
	DeviceID        uint      `gorm:"index;not null"`
	Device          Device
	ImageID         uint      `gorm:"not null"`
	Image           Image
	EmotionID       uint      `gorm:"not null"`
	Emotion         Emotion
	ResultID        uint      `gorm:"not null"`
	Result          Result
	ProcessingLogID uint      `gorm:"not null"`
	ProcessingLog   ProcessingLog
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
	ID              uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Analysis model.
func (Analysis) TableName() string {
	return "analyses"
}
