package metrics

import (
	"sync"

	"mercator-hq/dispatch/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultMaxChannels bounds the number of distinct channel label values.
const DefaultMaxChannels = 256

// Collector owns the Prometheus registry the daemon exposes. Component
// metrics (scheduler, limits) register on Registerer(); the collector itself
// tracks process-wide gauges such as channel health and build info.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry

	channelUp *prometheus.GaugeVec
	buildInfo *prometheus.GaugeVec

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector with a fresh registry that already carries
// the Go runtime and process collectors.
//
// Example:
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics)
//	sched, _ := scheduler.New(deps, scheduler.WithMetrics(scheduler.NewMetrics(collector.Registerer())))
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg config.MetricsConfig) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		config:   cfg,
		registry: registry,
		channelUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_channel_up",
				Help: "Whether a delivery channel currently reports connected (1) or not (0)",
			},
			[]string{"channel"},
		),
		buildInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_build_info",
				Help: "Build information, value is always 1",
			},
			[]string{"version", "commit"},
		),
		cardinalityLimiter: NewCardinalityLimiter(DefaultMaxChannels),
	}
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Registerer returns the registerer component metrics should use.
func (c *Collector) Registerer() prometheus.Registerer {
	return c.registry
}

// Enabled reports whether metrics exposure is turned on in configuration.
func (c *Collector) Enabled() bool {
	return c.config.IsEnabled()
}

// SetBuildInfo publishes the running version.
func (c *Collector) SetBuildInfo(version, commit string) {
	c.buildInfo.WithLabelValues(version, commit).Set(1)
}

// UpdateChannelHealth records whether channel is connected. Channels past the
// cardinality limit are dropped silently.
func (c *Collector) UpdateChannelHealth(channel string, connected bool) {
	if !c.cardinalityLimiter.Allow(channel) {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	c.channelUp.WithLabelValues(channel).Set(v)
}

// CardinalityLimiter caps the number of distinct label sets a metric may
// accumulate.
type CardinalityLimiter struct {
	mu             sync.RWMutex
	seen           map[string]struct{}
	maxCardinality int
}

// NewCardinalityLimiter creates a limiter admitting at most maxCardinality
// distinct label sets.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		seen:           make(map[string]struct{}),
		maxCardinality: maxCardinality,
	}
}

// Allow reports whether labelSet may be recorded. Label sets already seen are
// always allowed.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	_, ok := cl.seen[labelSet]
	cl.mu.RUnlock()
	if ok {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, ok := cl.seen[labelSet]; ok {
		return true
	}
	if len(cl.seen) >= cl.maxCardinality {
		return false
	}
	cl.seen[labelSet] = struct{}{}
	return true
}

// Count returns the number of distinct label sets admitted so far.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.seen)
}
