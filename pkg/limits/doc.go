// Package limits provides tiered rate limiting and budget metering per identity.
//
// # Overview
//
// Every identity has one persisted usage counter with four independent windows:
//
//   - minute, hour and day request counts
//   - a monthly cost accumulator checked against the tier budget
//
// Windows reset lazily. Nothing runs in the background; the first Check or
// Increment after a window's reset time zeroes that window and moves its reset
// time one full period past the moment of rollover. Windows are not aligned to
// calendar boundaries, and a month is 30 days.
//
// # Tiers
//
// A Catalog maps tier names to ceilings. Catalogs must hold at least four tiers
// with strictly increasing ceilings and budgets. Identities never seen before
// start on their configured assignment, or the lowest tier.
//
// # Usage
//
//	limiter, err := limits.NewLimiter(backend, limits.DefaultCatalog())
//
//	result, err := limiter.Check(ctx, identity)
//	if !result.Allowed {
//	    return result.Err()
//	}
//
//	// ... perform the metered work ...
//
//	status, err := limiter.Increment(ctx, identity, cost)
//
// A request is allowed iff every window's used count is strictly below its
// ceiling and the month cost is strictly below the budget.
//
// # Sub-packages
//
//   - storage: counter persistence (memory, SQLite)
//   - history: append-only usage snapshots and their retention
package limits
