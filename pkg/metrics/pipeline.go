package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the analysis
// ingestion pipeline.
type PipelineMetrics struct {
	AnalysesCreatedTotal   prometheus.Counter
	PipelineFailuresTotal  *prometheus.CounterVec
	PipelineDuration       prometheus.Histogram
	ClassifierCallsTotal   *prometheus.CounterVec
	ClassifierCallDuration prometheus.Histogram
	DevicesRegistered      prometheus.Counter
	ImageBytesStored       prometheus.Counter
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(namespace string) *PipelineMetrics {
	m := &PipelineMetrics{
		AnalysesCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "analyses_created_total",
				Help:      "Total number of analyses created",
			},
		),
		PipelineFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "failures_total",
				Help:      "Total number of failed ingestion attempts",
			},
			[]string{"category"}, // category: validation, unavailable, invalid_data, storage
		),
		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of one ingestion attempt end to end",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ClassifierCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "classifier",
				Name:      "calls_total",
				Help:      "Total number of classification service calls",
			},
			[]string{"status"}, // status: success, unavailable, invalid
		),
		ClassifierCallDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "classifier",
				Name:      "call_duration_seconds",
				Help:      "Duration of classification service calls",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DevicesRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "devices_registered_total",
				Help:      "Total number of devices registered lazily by uploads",
			},
		),
		ImageBytesStored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "image_bytes_stored_total",
				Help:      "Total number of image payload bytes persisted",
			},
		),
	}

	MustRegister(
		m.AnalysesCreatedTotal,
		m.PipelineFailuresTotal,
		m.PipelineDuration,
		m.ClassifierCallsTotal,
		m.ClassifierCallDuration,
		m.DevicesRegistered,
		m.ImageBytesStored,
	)

	return m
}
