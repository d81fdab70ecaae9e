// Package classifier provides the HTTP client for the external
// emotion-classification service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/emovision/pkg/metrics"
)

// Errors returned by Classify. Callers match them with errors.Is.
var (
	// ErrUnavailable marks a classification call that could not
	// complete: connection failure, timeout, non-2xx status, or an
	// empty/undecodable response body.
	ErrUnavailable = errors.New("classification service unavailable")

	// ErrInvalidResponse marks a response that decoded but carried no
	// usable emotion label.
	ErrInvalidResponse = errors.New("classification service returned invalid data")
)

// defaultTimeout bounds a classification round-trip when no timeout is
// configured.
const defaultTimeout = 30 * time.Second

// Classification is the structured result of one classification call.
type Classification struct {
	Target      bool
	Emotion     string
	TargetScore *float64
	Scores      map[string]float64
}

// Client sends images to the external emotion-classification service.
// One attempt per call; no retry.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	endpoint   string
	metrics    *metrics.PipelineMetrics // Optional metrics
}

// ClientConfig holds the configuration for the Client.
type ClientConfig struct {
	Logger *slog.Logger

	// EndpointURL is the classification service endpoint, e.g.
	// "http://localhost:8000/emotion".
	EndpointURL string

	// Timeout bounds the whole round-trip (default 30s).
	Timeout time.Duration

	// HTTPClient overrides the transport; mainly for tests.
	HTTPClient *http.Client

	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.PipelineMetrics
}

// NewClient creates a new Client instance.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.EndpointURL == "" {
		return nil, errors.New("endpoint URL cannot be empty")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		logger:     cfg.Logger,
		httpClient: httpClient,
		endpoint:   cfg.EndpointURL,
		metrics:    cfg.Metrics,
	}, nil
}

// Classify sends the image bytes to the classification service and
// parses its response. The payload is a single multipart field named
// "image" with filename "image.jpg"; no content sniffing is done.
func (c *Client) Classify(ctx context.Context, image []byte) (*Classification, error) {
	// Track duration
	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.ClassifierCallDuration)
		defer timer.ObserveDuration()
	}

	req, err := c.buildRequest(ctx, image)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("classification request failed", "endpoint", c.endpoint, "error", err)
		c.trackCall("unavailable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("classification service returned error status",
			"endpoint", c.endpoint,
			"status", resp.StatusCode,
		)
		c.trackCall("unavailable")
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.trackCall("unavailable")
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		c.trackCall("unavailable")
		return nil, fmt.Errorf("%w: empty response body", ErrUnavailable)
	}

	classification, err := parseResponse(body)
	if err != nil {
		c.trackCall("invalid")
		return nil, err
	}

	c.logger.Debug("classification completed",
		"emotion", classification.Emotion,
		"target", classification.Target,
	)
	c.trackCall("success")

	return classification, nil
}

// buildRequest assembles the multipart POST request.
func (c *Client) buildRequest(ctx context.Context, image []byte) (*http.Request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build classification request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return req, nil
}

// trackCall records the outcome of one classification call.
func (c *Client) trackCall(status string) {
	if c.metrics != nil {
		c.metrics.ClassifierCallsTotal.WithLabelValues(status).Inc()
	}
}

// rawResponse mirrors the service's JSON body with lenient field types.
type rawResponse struct {
	Result      json.RawMessage `json:"result"`
	Emotion     json.RawMessage `json:"emotion"`
	TargetScore json.RawMessage `json:"target_score"`
	Scores      json.RawMessage `json:"scores"`
}

// parseResponse decodes the service response. The emotion label is
// required; result defaults to false when absent or mistyped; numeric
// fields that fail to parse are treated as absent, and unparsable
// entries inside the score map are dropped individually.
func parseResponse(body []byte) (*Classification, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: undecodable body: %v", ErrUnavailable, err)
	}

	emotion := parseString(raw.Emotion)
	if strings.TrimSpace(emotion) == "" {
		return nil, fmt.Errorf("%w: missing or blank emotion", ErrInvalidResponse)
	}

	var target bool
	if len(raw.Result) > 0 {
		// A mistyped result field means "not a target", not an error.
		_ = json.Unmarshal(raw.Result, &target)
	}

	return &Classification{
		Target:      target,
		Emotion:     emotion,
		TargetScore: parseNumber(raw.TargetScore),
		Scores:      parseScores(raw.Scores),
	}, nil
}

// parseString decodes a JSON string value, returning "" on any mismatch.
func parseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// parseNumber decodes a numeric value that may arrive as a JSON number
// or a numeric string; nil when absent or unparsable.
func parseNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &parsed
		}
	}

	return nil
}

// parseScores decodes the per-label score map, dropping entries whose
// values are not numeric instead of failing the whole call.
func parseScores(raw json.RawMessage) map[string]float64 {
	if len(raw) == 0 {
		return map[string]float64{}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return map[string]float64{}
	}

	scores := make(map[string]float64, len(entries))
	for label, value := range entries {
		if parsed := parseNumber(value); parsed != nil {
			scores[label] = *parsed
		}
	}
	return scores
}
