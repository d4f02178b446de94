// Package telemetry groups the observability packages of dispatchd.
//
//   - logging: slog setup, per-poll context and PII redaction
//   - metrics: the Prometheus registry and scrape handler
//   - health: liveness, readiness and version endpoints
package telemetry
