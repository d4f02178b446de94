package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the scheduler.
type Metrics struct {
	polls        *prometheus.CounterVec
	jobs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
	pollDuration prometheus.Histogram
	batchSize    prometheus.Histogram
	running      prometheus.Gauge
}

// NewMetrics registers the scheduler collectors on reg. A nil reg registers
// on the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_scheduler_polls_total",
				Help: "Poll cycles by outcome (completed, skipped, aborted)",
			},
			[]string{"outcome"},
		),
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_scheduler_jobs_total",
				Help: "Jobs processed by final outcome",
			},
			[]string{"outcome"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_scheduler_job_failures_total",
				Help: "Failed jobs by failure reason",
			},
			[]string{"reason"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_scheduler_store_errors_total",
				Help: "Store failures that aborted a batch, by operation",
			},
			[]string{"operation"},
		),
		pollDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispatch_scheduler_poll_duration_seconds",
				Help:    "Duration of non-skipped poll cycles in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispatch_scheduler_batch_size",
				Help:    "Number of due jobs selected per poll cycle",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
		running: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_scheduler_running",
				Help: "1 while the ticker is armed",
			},
		),
	}
}

func (m *Metrics) recordPoll(outcome string, seconds float64, batch int) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		m.pollDuration.Observe(seconds)
		m.batchSize.Observe(float64(batch))
	}
}

func (m *Metrics) recordJob(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordStoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) setRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
