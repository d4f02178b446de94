// Package storage persists per-identity usage counters for the limiter.
//
// # Overview
//
// A Backend stores one UsageCounter per identity and exposes a single
// read-modify-write primitive, Update, which inserts the seed counter when
// the identity is unknown and then applies a mutation atomically. Two
// implementations are provided:
//
//   - Memory: map guarded by a mutex, no persistence
//   - SQLite: file-backed table rate_limit_usage, one transaction per Update
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("dispatch.db")
//
//	counter, err := backend.Update(ctx, "owner-1", seed, func(c *storage.UsageCounter) error {
//	    c.Minute.Count++
//	    return nil
//	})
//
// # Thread Safety
//
// All backends are safe for concurrent use. Two Updates for the same
// identity never interleave.
package storage
