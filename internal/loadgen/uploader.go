// Package loadgen provides synthetic upload generation for demos and
// smoke testing against a running API server.
package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/emovision/pkg/metrics"
)

// SyntheticDevice is a fake camera identity used for generated uploads.
type SyntheticDevice struct {
	Name     string
	Location string
}

// NewSyntheticDevice generates a fake device identity.
func NewSyntheticDevice() *SyntheticDevice {
	return &SyntheticDevice{
		Name:     gofakeit.Numerify("cam-###"),
		Location: fmt.Sprintf("%s, %s", gofakeit.City(), gofakeit.StateAbr()),
	}
}

// Uploader posts synthetic image uploads for a fixed set of devices.
type Uploader struct {
	logger     *slog.Logger
	httpClient *http.Client
	targetURL  string
	devices    []*SyntheticDevice
	metrics    *metrics.LoadgenMetrics // Optional metrics
}

// NewUploader creates an uploader with a random number of synthetic
// devices. Uses math/rand which is acceptable for simulation data.
func NewUploader(logger *slog.Logger, targetURL string) *Uploader {
	deviceCount := rand.Intn(5) + 1 // #nosec G404 - weak random is acceptable for test data generation
	devices := make([]*SyntheticDevice, 0, deviceCount)
	for range deviceCount {
		devices = append(devices, NewSyntheticDevice())
	}

	return &Uploader{
		logger:     logger,
		httpClient: &http.Client{},
		targetURL:  targetURL,
		devices:    devices,
	}
}

// SetMetrics sets the metrics collector for this uploader.
// This should be called before uploads start.
func (u *Uploader) SetMetrics(m *metrics.LoadgenMetrics) {
	u.metrics = m
	if m != nil {
		m.DevicesGenerated.Add(float64(len(u.devices)))
	}
}

// Devices returns the synthetic devices this uploader posts for.
func (u *Uploader) Devices() []*SyntheticDevice {
	return u.devices
}

// UploadOnce posts one synthetic image for a randomly chosen device.
func (u *Uploader) UploadOnce(ctx context.Context) error {
	var timer *prometheus.Timer
	if u.metrics != nil {
		timer = prometheus.NewTimer(u.metrics.UploadDuration)
		defer timer.ObserveDuration()
	}

	device := u.devices[rand.Intn(len(u.devices))] // #nosec G404
	image := syntheticJPEG()

	err := u.post(ctx, device.Name, image)
	if u.metrics != nil {
		if err != nil {
			u.metrics.UploadsTotal.WithLabelValues("error").Inc()
		} else {
			u.metrics.UploadsTotal.WithLabelValues("success").Inc()
		}
	}
	if err != nil {
		return err
	}

	u.logger.Debug("synthetic upload completed",
		"device", device.Name,
		"size_bytes", len(image),
	)
	return nil
}

// post sends one multipart upload request.
func (u *Uploader) post(ctx context.Context, deviceName string, image []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("device", deviceName); err != nil {
		return fmt.Errorf("failed to write device field: %w", err)
	}

	part, err := writer.CreateFormFile("image", "image.jpg")
	if err != nil {
		return fmt.Errorf("failed to create image field: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("failed to write image payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.targetURL, &buf)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}

	return nil
}

// syntheticJPEG builds a random payload framed with JPEG magic bytes.
// The content is noise; the pipeline treats image data as opaque.
func syntheticJPEG() []byte {
	size := 2048 + rand.Intn(62*1024) // #nosec G404
	payload := make([]byte, size)

	for i := range payload {
		payload[i] = byte(rand.Intn(256)) // #nosec G404
	}
	copy(payload, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	payload[len(payload)-2] = 0xFF
	payload[len(payload)-1] = 0xD9

	return payload
}
