package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Transitions *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Running     prometheus.Gauge
	Runs        *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbfuse_processor_transitions_total",
				Help: "Processor state transitions by processor type and target state",
			},
			[]string{"type", "state"},
		),
		Duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbfuse_processor_duration_seconds",
				Help:    "Processor computation time",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"type", "state"},
		),
		Running: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "kbfuse_processors_running",
				Help: "Processors currently computing",
			},
		),
		Runs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbfuse_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) transition(typ, state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(typ, state).Inc()
}

func (m *Metrics) running(delta float64) {
	if m == nil {
		return
	}
	m.Running.Add(delta)
}

func (m *Metrics) observe(typ, state string, seconds float64) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(typ, state).Observe(seconds)
}

func (m *Metrics) run(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
}
