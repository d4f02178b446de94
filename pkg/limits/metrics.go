package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the limits package.
type Metrics struct {
	checks      *prometheus.CounterVec
	windowHits  *prometheus.CounterVec
	increments  *prometheus.CounterVec
	costTotal   *prometheus.CounterVec
	budgetUsage *prometheus.GaugeVec

	checkDuration *prometheus.HistogramVec
}

// NewMetrics registers the limits collectors on reg. A nil reg registers on
// the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_limits_checks_total",
				Help: "Total number of rate limit checks performed",
			},
			[]string{"tier", "result"},
		),

		windowHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_limits_window_hits_total",
				Help: "Total number of checks denied per exceeded window",
			},
			[]string{"tier", "window"},
		),

		increments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_limits_increments_total",
				Help: "Total number of usage increments",
			},
			[]string{"tier"},
		),

		costTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_limits_cost_usd_total",
				Help: "Total cost recorded against monthly budgets in USD",
			},
			[]string{"tier"},
		),

		budgetUsage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_limits_budget_usage_ratio",
				Help: "Budget used by the most recent increment as a ratio of the tier budget (0.0-1.0)",
			},
			[]string{"tier"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_limits_operation_duration_seconds",
				Help:    "Duration of limiter operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~160ms
			},
			[]string{"operation"},
		),
	}
}

// RecordCheck records a check and its outcome.
func (m *Metrics) RecordCheck(tier TierName, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "blocked"
	}
	m.checks.WithLabelValues(string(tier), result).Inc()
}

// RecordWindowHit records a window that caused a denial.
func (m *Metrics) RecordWindowHit(tier TierName, window Window) {
	m.windowHits.WithLabelValues(string(tier), string(window)).Inc()
}

// RecordIncrement records a usage increment.
func (m *Metrics) RecordIncrement(tier TierName, cost float64, budget BudgetStatus) {
	m.increments.WithLabelValues(string(tier)).Inc()
	if cost > 0 {
		m.costTotal.WithLabelValues(string(tier)).Add(cost)
	}
	if budget.Limit > 0 {
		m.budgetUsage.WithLabelValues(string(tier)).Set(budget.Used / budget.Limit)
	}
}

// RecordCheckDuration records the duration of a limiter operation.
func (m *Metrics) RecordCheckDuration(operation string, seconds float64) {
	m.checkDuration.WithLabelValues(operation).Observe(seconds)
}
