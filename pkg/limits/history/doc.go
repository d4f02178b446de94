// Package history records immutable per-identity usage snapshots.
//
// A snapshot captures the request, token and cost totals of one closed
// period (hour, day or month) for an identity and the tier it was on. The
// Recorder only appends; it never aggregates, resets or schedules anything.
// Closing a period and computing its totals is the caller's job.
//
// Snapshots are stored in the rate_limit_history table (SQLite) or in memory.
// A Pruner with an optional cron RetentionScheduler deletes snapshots older
// than the configured retention.
package history
