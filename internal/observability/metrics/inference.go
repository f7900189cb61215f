package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InferenceMetrics tracks calls to the detection service.
type InferenceMetrics struct {
	Requests    *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Quarantined *prometheus.CounterVec
}

// NewInferenceMetrics creates and registers the inference collectors.
func NewInferenceMetrics(registry prometheus.Registerer) (*InferenceMetrics, error) {
	m := &InferenceMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Detection service calls by outcome",
		}, []string{labelOutcome}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "inference",
			Name:      "request_duration_seconds",
			Help:      "Latency of detection service calls",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{labelOutcome}),
		Quarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "inference",
			Name:      "quarantined_detections_total",
			Help:      "Detections dropped by response validation",
		}, []string{labelReason}),
	}

	for _, c := range []prometheus.Collector{m.Requests, m.Duration, m.Quarantined} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one call.
func (m *InferenceMetrics) Observe(outcome string, elapsed time.Duration) {
	m.Requests.WithLabelValues(outcome).Inc()
	m.Duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
