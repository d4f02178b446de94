// Package metrics owns the Prometheus registry exposed by dispatchd.
//
// Component packages define their own collectors (scheduler.NewMetrics,
// limits.NewMetrics) and register them on Collector.Registerer. The collector
// adds Go runtime and process metrics, channel health gauges and build info,
// and serves everything through Handler.
//
// # Usage
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics)
//	limiterMetrics := limits.NewMetrics(collector.Registerer())
//	mux.Handle("/metrics", collector.Handler())
package metrics
