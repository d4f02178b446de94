package history

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"mercator-hq/dispatch/pkg/limits"
)

// CatalogSource provides the tier catalog used to validate tier names.
// *limits.Limiter satisfies it.
type CatalogSource interface {
	Catalog() *limits.Catalog
}

// Config contains configuration for the history recorder.
type Config struct {
	// WriteTimeout bounds a single insert.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder appends usage snapshots. It performs no aggregation of its own;
// callers close a period and hand over the totals.
type Recorder struct {
	store   Store
	config  *Config
	catalog CatalogSource
	now     func() time.Time
	logger  *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithCatalog rejects records whose tier is not in the catalog.
func WithCatalog(source CatalogSource) RecorderOption {
	return func(r *Recorder) { r.catalog = source }
}

// WithRecorderClock overrides the creation timestamp source.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, config *Config, opts ...RecorderOption) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}

	r := &Recorder{
		store:  store,
		config: config,
		now:    time.Now,
		logger: slog.Default().With("component", "history.recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates and appends one snapshot. Unknown tiers are rejected with
// a *limits.ConfigError, malformed input with a *ValidationError.
func (r *Recorder) Record(ctx context.Context, identity, tier string, agg Aggregates, periodStart, periodEnd time.Time, periodType PeriodType) (*Record, error) {
	if err := r.validate(identity, tier, agg, periodStart, periodEnd, periodType); err != nil {
		return nil, err
	}

	record := &Record{
		ID:          uuid.New().String(),
		Identity:    identity,
		Tier:        tier,
		Aggregates:  agg,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		PeriodType:  periodType,
		CreatedAt:   r.now(),
	}

	writeCtx := ctx
	if r.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, r.config.WriteTimeout)
		defer cancel()
	}

	if err := r.store.Insert(writeCtx, record); err != nil {
		r.logger.Error("failed to record usage snapshot",
			"identity", identity,
			"period_type", periodType,
			"error", err,
		)
		return nil, err
	}

	r.logger.Debug("usage snapshot recorded",
		"record_id", record.ID,
		"identity", identity,
		"tier", tier,
		"period_type", periodType,
		"requests", agg.Requests,
		"cost", agg.Cost,
	)

	return record, nil
}

// Query returns snapshots matching q, newest period first.
func (r *Recorder) Query(ctx context.Context, q *Query) ([]*Record, error) {
	if q != nil && q.PeriodType != "" && !q.PeriodType.Valid() {
		return nil, &ValidationError{Field: "period_type", Message: fmt.Sprintf("unknown period type %q", q.PeriodType)}
	}
	return r.store.Query(ctx, q)
}

func (r *Recorder) validate(identity, tier string, agg Aggregates, start, end time.Time, periodType PeriodType) error {
	if identity == "" {
		return &ValidationError{Field: "identity_id", Message: "must not be empty", Cause: limits.ErrInvalidIdentifier}
	}
	if tier == "" {
		return &ValidationError{Field: "tier", Message: "must not be empty"}
	}
	if r.catalog != nil {
		if _, err := r.catalog.Catalog().Lookup(limits.TierName(tier)); err != nil {
			return err
		}
	}
	if !periodType.Valid() {
		return &ValidationError{Field: "period_type", Message: fmt.Sprintf("unknown period type %q", periodType)}
	}
	if start.IsZero() || end.IsZero() {
		return &ValidationError{Field: "period", Message: "start and end are required"}
	}
	if !end.After(start) {
		return &ValidationError{Field: "period", Message: "end must be after start"}
	}
	if agg.Requests < 0 || agg.Tokens < 0 {
		return &ValidationError{Field: "aggregates", Message: "counts must not be negative"}
	}
	if agg.Cost < 0 || math.IsNaN(agg.Cost) || math.IsInf(agg.Cost, 0) {
		return &ValidationError{Field: "cost", Message: "must be a non-negative number"}
	}
	return nil
}
