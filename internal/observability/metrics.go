// Package observability wires the Prometheus collectors together and serves
// them over HTTP.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spinescan/spinescan/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application. It satisfies
// the recorder interfaces of the inference, events and orchestrator packages.
type Metrics struct {
	registry  *prometheus.Registry
	Scan      *metrics.ScanMetrics
	Inference *metrics.InferenceMetrics
	Events    *metrics.EventMetrics
	HTTP      *metrics.HTTPMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry that
// also carries the Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	scanMetrics, err := metrics.NewScanMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan metrics: %w", err)
	}

	inferenceMetrics, err := metrics.NewInferenceMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference metrics: %w", err)
	}

	eventMetrics, err := metrics.NewEventMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Scan:      scanMetrics,
		Inference: inferenceMetrics,
		Events:    eventMetrics,
		HTTP:      httpMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// ObserveInference records one call to the detection service.
func (m *Metrics) ObserveInference(outcome string, elapsed time.Duration) {
	m.Inference.Observe(outcome, elapsed)
}

// AddQuarantined counts detections dropped by validation.
func (m *Metrics) AddQuarantined(reason string, n int) {
	m.Inference.Quarantined.WithLabelValues(reason).Add(float64(n))
}

// ObserveEventPublish records one MQTT publish attempt.
func (m *Metrics) ObserveEventPublish(outcome string, elapsed time.Duration) {
	m.Events.ObservePublish(outcome, elapsed)
}

// SetBrokerConnected tracks the MQTT connection state.
func (m *Metrics) SetBrokerConnected(connected bool) {
	m.Events.UpdateConnectionStatus(connected)
}

// RunStarted marks a run as claimed.
func (m *Metrics) RunStarted() {
	m.Scan.ActiveRuns.Inc()
}

// RunFinished records a run that reached a terminal status. Only runs that
// were started through RunStarted release the active gauge.
func (m *Metrics) RunFinished(outcome string, elapsed time.Duration) {
	if outcome == metrics.RunDone || outcome == metrics.RunFailed {
		m.Scan.ActiveRuns.Dec()
	}
	m.Scan.ObserveRun(outcome, elapsed)
}

// StageFailed counts a run failure attributed to stage.
func (m *Metrics) StageFailed(stage string) {
	m.Scan.StageFailures.WithLabelValues(stage).Inc()
}

// ObserveVerdict counts a served diagnostic summary.
func (m *Metrics) ObserveVerdict(verdict string) {
	m.Scan.Verdicts.WithLabelValues(verdict).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTP.ObserveRequest(method, route, status, elapsed)
}

// RequestStarted increments the in-flight gauge.
func (m *Metrics) RequestStarted() { m.HTTP.InFlight.Inc() }

// RequestFinished releases the in-flight gauge.
func (m *Metrics) RequestFinished() { m.HTTP.InFlight.Dec() }

// RateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RateLimited() {
	m.HTTP.RateLimited.Inc()
}
