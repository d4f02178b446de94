// Package store persists scheduled jobs, conversations, messages, agents and
// platform accounts.
//
// DB keeps everything in one SQLite file (pure-Go driver) that the rate
// limiter's usage table can share through DB.SQL. Memory mirrors DB's
// behavior for tests.
//
// Job transitions are compare-and-set on the current status: an update that
// finds the job in another state affects no row and reports
// scheduler.ErrTransitionConflict, which is how two dispatchers sharing the
// database avoid delivering the same job twice.
package store
