package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/dispatch/pkg/limits/storage"
)

// Limiter enforces tiered request ceilings and a monthly budget per identity.
//
// Counters live in the storage backend, which is the only source of truth;
// the Limiter caches nothing across calls. Check and Increment are each a
// single read-modify-write against the backend, but a Check followed by an
// Increment is not atomic: concurrent callers for the same identity can all
// pass Check before any of them increments. The overshoot is bounded by the
// number of concurrent callers minus one.
//
// # Example
//
//	limiter, err := limits.NewLimiter(storage.NewMemoryBackend(), limits.DefaultCatalog())
//
//	result, err := limiter.Check(ctx, "user-123")
//	if !result.Allowed {
//	    // result.Status still carries remaining quota and reset times
//	}
//
//	status, err := limiter.Increment(ctx, "user-123", 0.10)
type Limiter struct {
	backend storage.Backend
	catalog atomic.Pointer[Catalog]

	// assignments seeds the tier of identities seen for the first time.
	assignments map[string]TierName
	assignMu    sync.RWMutex

	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithAssignments sets the tier given to identities on first sight.
func WithAssignments(assignments map[string]TierName) Option {
	return func(l *Limiter) {
		l.assignments = make(map[string]TierName, len(assignments))
		for id, tier := range assignments {
			l.assignments[id] = tier
		}
	}
}

// NewLimiter creates a limiter over backend using catalog.
// It returns a *ConfigError if an assignment names a tier missing from catalog.
func NewLimiter(backend storage.Backend, catalog *Catalog, opts ...Option) (*Limiter, error) {
	if backend == nil {
		return nil, fmt.Errorf("limits: storage backend is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	l := &Limiter{
		backend:     backend,
		assignments: make(map[string]TierName),
		logger:      slog.Default().With("component", "limits.limiter"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.catalog.Store(catalog)

	if err := l.validateAssignments(catalog); err != nil {
		return nil, err
	}

	return l, nil
}

// Catalog returns the catalog currently in use.
func (l *Limiter) Catalog() *Catalog {
	return l.catalog.Load()
}

// SetCatalog swaps the tier catalog. Assignments must all resolve in the new
// catalog, otherwise the old catalog stays in place and a *ConfigError is
// returned. Accumulated counts are left as they are.
func (l *Limiter) SetCatalog(catalog *Catalog) error {
	if catalog == nil {
		return &ConfigError{Field: "catalog", Value: "nil", Err: ErrConfigInvalid}
	}

	l.assignMu.Lock()
	defer l.assignMu.Unlock()
	if err := checkAssignments(catalog, l.assignments); err != nil {
		return err
	}
	l.catalog.Store(catalog)
	l.logger.Info("tier catalog replaced", "tiers", len(catalog.tiers))
	return nil
}

// Reconfigure replaces the catalog and the first-sight assignments together.
// Both are validated before either changes. Identities that already have a
// counter keep their stored tier; SetTier moves them.
func (l *Limiter) Reconfigure(catalog *Catalog, assignments map[string]TierName) error {
	if catalog == nil {
		return &ConfigError{Field: "catalog", Value: "nil", Err: ErrConfigInvalid}
	}

	next := make(map[string]TierName, len(assignments))
	for id, tier := range assignments {
		next[id] = tier
	}
	if err := checkAssignments(catalog, next); err != nil {
		return err
	}

	l.assignMu.Lock()
	l.assignments = next
	l.catalog.Store(catalog)
	l.assignMu.Unlock()

	l.logger.Info("limits reconfigured", "tiers", len(catalog.tiers), "assignments", len(next))
	return nil
}

// Assignments returns a copy of the first-sight tier assignments.
func (l *Limiter) Assignments() map[string]TierName {
	l.assignMu.RLock()
	defer l.assignMu.RUnlock()

	out := make(map[string]TierName, len(l.assignments))
	for id, tier := range l.assignments {
		out[id] = tier
	}
	return out
}

// Check rolls forward every elapsed window for identity and reports whether
// another request is allowed. A counter is created on first sight.
func (l *Limiter) Check(ctx context.Context, identity string) (*CheckResult, error) {
	start := time.Now()
	defer l.observe("check", start)

	if identity == "" {
		return nil, ErrInvalidIdentifier
	}

	catalog := l.catalog.Load()
	now := l.now()

	counter, err := l.backend.Update(ctx, identity, l.seed(identity, catalog, now), func(c *storage.UsageCounter) error {
		rollover(c, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: check %s: %w", ErrStorageFailure, identity, err)
	}

	status := l.buildStatus(counter, catalog)
	exceeded := status.Exceeded()
	result := &CheckResult{
		Allowed: len(exceeded) == 0,
		Status:  status,
	}
	if !result.Allowed {
		result.Reason = fmt.Sprintf("limit reached: %s", describeWindows(exceeded))
	}

	if l.metrics != nil {
		l.metrics.RecordCheck(status.Tier, result.Allowed)
		for _, w := range exceeded {
			l.metrics.RecordWindowHit(status.Tier, w)
		}
	}

	return result, nil
}

// Increment rolls forward every elapsed window for identity, then counts one
// request in the minute, hour and day windows and adds cost to the monthly
// budget. It does not check ceilings.
func (l *Limiter) Increment(ctx context.Context, identity string, cost float64) (*Status, error) {
	start := time.Now()
	defer l.observe("increment", start)

	if identity == "" {
		return nil, ErrInvalidIdentifier
	}
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, &ConfigError{Field: "cost", Value: fmt.Sprint(cost), Err: ErrNegativeCost}
	}

	catalog := l.catalog.Load()
	now := l.now()

	counter, err := l.backend.Update(ctx, identity, l.seed(identity, catalog, now), func(c *storage.UsageCounter) error {
		rollover(c, now)
		c.Minute.Count++
		c.Hour.Count++
		c.Day.Count++
		c.Month.Cost = roundCost(c.Month.Cost + cost)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: increment %s: %w", ErrStorageFailure, identity, err)
	}

	status := l.buildStatus(counter, catalog)
	if l.metrics != nil {
		l.metrics.RecordIncrement(status.Tier, cost, status.Budget)
	}
	return status, nil
}

// Peek reports the status of identity as Check would see it, without
// creating or writing the counter.
func (l *Limiter) Peek(ctx context.Context, identity string) (*Status, error) {
	if identity == "" {
		return nil, ErrInvalidIdentifier
	}

	catalog := l.catalog.Load()
	now := l.now()

	counter, err := l.backend.Load(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		counter = l.seed(identity, catalog, now)
	} else if err != nil {
		return nil, fmt.Errorf("%w: peek %s: %w", ErrStorageFailure, identity, err)
	}

	rollover(counter, now)
	return l.buildStatus(counter, catalog), nil
}

// SetTier assigns tier to identity. The change applies from the next Check or
// Increment; counts already accumulated are not rescaled.
func (l *Limiter) SetTier(ctx context.Context, identity string, tier TierName) error {
	if identity == "" {
		return ErrInvalidIdentifier
	}

	catalog := l.catalog.Load()
	if _, err := catalog.Lookup(tier); err != nil {
		return err
	}

	now := l.now()
	seed := l.seed(identity, catalog, now)
	seed.Tier = string(tier)

	_, err := l.backend.Update(ctx, identity, seed, func(c *storage.UsageCounter) error {
		c.Tier = string(tier)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: set tier %s: %w", ErrStorageFailure, identity, err)
	}

	l.logger.Info("tier assigned", "identity", identity, "tier", tier)
	return nil
}

// seed builds the counter inserted for an identity seen for the first time.
func (l *Limiter) seed(identity string, catalog *Catalog, now time.Time) *storage.UsageCounter {
	tier := catalog.Lowest().Name

	l.assignMu.RLock()
	if assigned, ok := l.assignments[identity]; ok && catalog.Has(assigned) {
		tier = assigned
	}
	l.assignMu.RUnlock()

	return &storage.UsageCounter{
		Identity:  identity,
		Tier:      string(tier),
		Minute:    storage.WindowCounter{ResetAt: now.Add(WindowMinute.Period())},
		Hour:      storage.WindowCounter{ResetAt: now.Add(WindowHour.Period())},
		Day:       storage.WindowCounter{ResetAt: now.Add(WindowDay.Period())},
		Month:     storage.CostCounter{ResetAt: now.Add(WindowMonth.Period())},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// tierFor resolves the stored tier name. A tier dropped from the catalog by a
// reload falls back to the lowest tier until the identity is reassigned.
func (l *Limiter) tierFor(c *storage.UsageCounter, catalog *Catalog) TierDefinition {
	def, err := catalog.Lookup(TierName(c.Tier))
	if err != nil {
		l.logger.Warn("stored tier not in catalog, using lowest tier",
			"identity", c.Identity,
			"tier", c.Tier,
			"fallback", catalog.Lowest().Name,
		)
		return catalog.Lowest()
	}
	return def
}

func (l *Limiter) buildStatus(c *storage.UsageCounter, catalog *Catalog) *Status {
	tier := l.tierFor(c, catalog)
	return &Status{
		Identity: c.Identity,
		Tier:     tier.Name,
		Minute:   windowStatus(tier.RequestsPerMinute, c.Minute),
		Hour:     windowStatus(tier.RequestsPerHour, c.Hour),
		Day:      windowStatus(tier.RequestsPerDay, c.Day),
		Budget: BudgetStatus{
			Limit:     tier.MonthlyBudget,
			Used:      c.Month.Cost,
			Remaining: roundCost(math.Max(0, tier.MonthlyBudget-c.Month.Cost)),
			ResetAt:   c.Month.ResetAt,
		},
	}
}

func (l *Limiter) validateAssignments(catalog *Catalog) error {
	l.assignMu.RLock()
	defer l.assignMu.RUnlock()
	return checkAssignments(catalog, l.assignments)
}

func checkAssignments(catalog *Catalog, assignments map[string]TierName) error {
	var unknown []string
	for id, tier := range assignments {
		if !catalog.Has(tier) {
			unknown = append(unknown, fmt.Sprintf("%s=%s", id, tier))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &ConfigError{Field: "assignments", Value: strings.Join(unknown, ","), Err: ErrUnknownTier}
	}
	return nil
}

func (l *Limiter) observe(operation string, start time.Time) {
	if l.metrics != nil {
		l.metrics.RecordCheckDuration(operation, time.Since(start).Seconds())
	}
}

// rollover zeroes every window whose reset time has passed and moves its
// reset time one period past now. Windows are independent.
func rollover(c *storage.UsageCounter, now time.Time) {
	rollWindow(&c.Minute, now, WindowMinute.Period())
	rollWindow(&c.Hour, now, WindowHour.Period())
	rollWindow(&c.Day, now, WindowDay.Period())
	if !now.Before(c.Month.ResetAt) {
		c.Month.Cost = 0
		c.Month.ResetAt = now.Add(WindowMonth.Period())
	}
}

func rollWindow(w *storage.WindowCounter, now time.Time, period time.Duration) {
	if !now.Before(w.ResetAt) {
		w.Count = 0
		w.ResetAt = now.Add(period)
	}
}

func windowStatus(limit int64, w storage.WindowCounter) WindowStatus {
	remaining := limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return WindowStatus{
		Limit:     limit,
		Used:      w.Count,
		Remaining: remaining,
		ResetAt:   w.ResetAt,
	}
}

// roundCost rounds to a millionth of a dollar so repeated additions of
// decimal prices do not drift.
func roundCost(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
