package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"procodus.dev/emovision/pkg/metrics"
)

// DeviceRegistry resolves devices by name, creating them lazily with
// default attributes on first sight.
type DeviceRegistry struct {
	logger  *slog.Logger
	db      *gorm.DB
	metrics *metrics.PipelineMetrics // Optional metrics
}

// DeviceRegistryConfig holds the configuration for the DeviceRegistry.
type DeviceRegistryConfig struct {
	Logger *slog.Logger
	DB     *gorm.DB

	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.PipelineMetrics
}

// NewDeviceRegistry creates a new DeviceRegistry instance.
func NewDeviceRegistry(cfg *DeviceRegistryConfig) (*DeviceRegistry, error) {
	if cfg == nil {
		return nil, errors.New("device registry config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}

	return &DeviceRegistry{
		logger:  cfg.Logger,
		db:      cfg.DB,
		metrics: cfg.Metrics,
	}, nil
}

// FindOrCreate returns the device with the given name, creating it with
// default attributes when it does not exist yet. Concurrent creation of
// the same name is resolved by the unique index on devices.name: the
// loser of the race re-fetches the winner's row instead of duplicating it.
func (r *DeviceRegistry) FindOrCreate(ctx context.Context, name string) (*Device, error) {
	var device Device

	err := r.db.WithContext(ctx).Where("name = ?", name).First(&device).Error
	if err == nil {
		return &device, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up device %q: %w", name, err)
	}

	device = Device{
		Name:     name,
		Type:     "Unknown",
		Location: "",
	}

	if err := r.db.WithContext(ctx).Create(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the creation race; another upload registered the
			// device first.
			r.logger.Debug("device created concurrently, re-fetching", "name", name)

			var existing Device
			if err := r.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error; err != nil {
				return nil, fmt.Errorf("failed to re-fetch device %q after conflict: %w", name, err)
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to create device %q: %w", name, err)
	}

	r.logger.Info("registered new device", "name", name, "id", device.ID)

	if r.metrics != nil {
		r.metrics.DevicesRegistered.Inc()
	}

	return &device, nil
}
