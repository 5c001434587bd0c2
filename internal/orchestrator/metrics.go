package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/san-kum/dipsim/internal/result"
	"github.com/san-kum/dipsim/internal/safety"
)

// Metrics holds Prometheus metrics for the orchestrators. A nil *Metrics
// records nothing.
type Metrics struct {
	StepsTotal       *prometheus.CounterVec
	TruncationsTotal *prometheus.CounterVec
	DeadlineMisses   prometheus.Counter
	Failovers        prometheus.Counter
	JobsTotal        *prometheus.CounterVec
	StepDuration     prometheus.Histogram
}

// NewMetrics creates the orchestrator metrics and registers them with reg.
// A nil reg leaves them unregistered.
//
// Metrics:
//   - dipsim_steps_total{mode} - accepted integration steps
//   - dipsim_truncations_total{mode,kind} - trajectories ended by a violation
//   - dipsim_deadline_misses_total - real-time steps over their deadline
//   - dipsim_failovers_total - switches to a fallback controller
//   - dipsim_jobs_total{status} - finished parallel jobs
//   - dipsim_realtime_step_seconds - wall-clock duration of real-time steps
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dipsim_steps_total",
				Help: "Total number of accepted integration steps",
			},
			[]string{"mode"},
		),
		TruncationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dipsim_truncations_total",
				Help: "Total number of trajectories truncated by a violation",
			},
			[]string{"mode", "kind"},
		),
		DeadlineMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dipsim_deadline_misses_total",
				Help: "Total number of real-time steps that missed their deadline",
			},
		),
		Failovers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dipsim_failovers_total",
				Help: "Total number of switches to a fallback controller",
			},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dipsim_jobs_total",
				Help: "Total number of finished parallel jobs",
			},
			[]string{"status"},
		),
		StepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dipsim_realtime_step_seconds",
				Help:    "Wall-clock duration of real-time steps in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-5, 2, 14), // 10us to ~160ms
			},
		),
	}
}

func (m *Metrics) step(mode string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) truncated(mode string, kind safety.Kind) {
	if m == nil {
		return
	}
	m.TruncationsTotal.WithLabelValues(mode, kind.String()).Inc()
}

func (m *Metrics) missed() {
	if m == nil {
		return
	}
	m.DeadlineMisses.Inc()
}

func (m *Metrics) failedOver() {
	if m == nil {
		return
	}
	m.Failovers.Inc()
}

func (m *Metrics) job(status result.Status) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) stepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.Observe(d.Seconds())
}
