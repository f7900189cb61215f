package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ScanMetrics tracks inference runs and the verdicts served.
type ScanMetrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
	Verdicts      *prometheus.CounterVec
}

// NewScanMetrics creates and registers the scan collectors.
func NewScanMetrics(registry prometheus.Registerer) (*ScanMetrics, error) {
	m := &ScanMetrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Inference runs by outcome",
		}, []string{labelOutcome}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scan",
			Name:      "run_duration_seconds",
			Help:      "Wall time of inference runs from claim to terminal status",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{labelOutcome}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scan",
			Name:      "stage_failures_total",
			Help:      "Failed runs by pipeline stage",
		}, []string{labelStage}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "scan",
			Name:      "active_runs",
			Help:      "Runs currently between claim and terminal status",
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scan",
			Name:      "verdicts_total",
			Help:      "Diagnostic summaries served by verdict",
		}, []string{labelVerdict}),
	}

	for _, c := range []prometheus.Collector{m.RunsTotal, m.RunDuration, m.StageFailures, m.ActiveRuns, m.Verdicts} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRun records a finished run. Duration is only observed for runs
// that executed the pipeline.
func (m *ScanMetrics) ObserveRun(outcome string, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	if outcome == RunDone || outcome == RunFailed {
		m.RunDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}
