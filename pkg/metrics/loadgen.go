package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LoadgenMetrics contains Prometheus metrics for the synthetic upload
// generator.
type LoadgenMetrics struct {
	UploadsTotal     *prometheus.CounterVec
	UploadDuration   prometheus.Histogram
	ActiveWorkers    prometheus.Gauge
	DevicesGenerated prometheus.Counter
}

// NewLoadgenMetrics creates and registers load generator metrics.
func NewLoadgenMetrics(namespace string) *LoadgenMetrics {
	m := &LoadgenMetrics{
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loadgen",
				Name:      "uploads_total",
				Help:      "Total number of synthetic uploads attempted",
			},
			[]string{"status"}, // status: success, error
		),
		UploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "loadgen",
				Name:      "upload_duration_seconds",
				Help:      "Duration of synthetic upload requests",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "loadgen",
				Name:      "active_workers",
				Help:      "Number of currently active upload workers",
			},
		),
		DevicesGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loadgen",
				Name:      "devices_generated_total",
				Help:      "Total number of synthetic device identities generated",
			},
		),
	}

	MustRegister(
		m.UploadsTotal,
		m.UploadDuration,
		m.ActiveWorkers,
		m.DevicesGenerated,
	)

	return m
}
