package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics tracks MQTT event publishing.
type EventMetrics struct {
	ConnectionStatus prometheus.Gauge
	LastConnectTime  prometheus.Gauge
	Publishes        *prometheus.CounterVec
	PublishLatency   prometheus.Histogram
}

// NewEventMetrics creates and registers the event collectors.
func NewEventMetrics(registry prometheus.Registerer) (*EventMetrics, error) {
	m := &EventMetrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "connection_status",
			Help:      "Current MQTT connection status (1 for connected, 0 for disconnected)",
		}),
		LastConnectTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "last_connect_time_seconds",
			Help:      "Timestamp of the last successful MQTT connection",
		}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "publishes_total",
			Help:      "Scan status events by publish outcome",
		}, []string{labelOutcome}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "mqtt",
			Name:      "publish_latency_seconds",
			Help:      "Latency of MQTT publish operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{m.ConnectionStatus, m.LastConnectTime, m.Publishes, m.PublishLatency} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UpdateConnectionStatus sets the connection gauge and, on connect, the last
// connect timestamp.
func (m *EventMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.SetToCurrentTime()
		return
	}
	m.ConnectionStatus.Set(0)
}

// ObservePublish records one publish attempt.
func (m *EventMetrics) ObservePublish(outcome string, elapsed time.Duration) {
	m.Publishes.WithLabelValues(outcome).Inc()
	m.PublishLatency.Observe(elapsed.Seconds())
}
