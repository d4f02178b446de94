package history

import (
	"context"
	"fmt"
	"time"
)

// PeriodType is the granularity of a usage snapshot.
type PeriodType string

const (
	// PeriodHour is an hourly snapshot.
	PeriodHour PeriodType = "hour"

	// PeriodDay is a daily snapshot.
	PeriodDay PeriodType = "day"

	// PeriodMonth is a monthly snapshot.
	PeriodMonth PeriodType = "month"
)

// Valid reports whether p is a known period type.
func (p PeriodType) Valid() bool {
	switch p {
	case PeriodHour, PeriodDay, PeriodMonth:
		return true
	}
	return false
}

// ParsePeriodType converts s to a PeriodType.
func ParsePeriodType(s string) (PeriodType, error) {
	p := PeriodType(s)
	if !p.Valid() {
		return "", &ValidationError{Field: "period_type", Message: fmt.Sprintf("unknown period type %q (want hour, day or month)", s)}
	}
	return p, nil
}

// Aggregates are the usage totals captured by one snapshot.
type Aggregates struct {
	Requests int64   `json:"requests_count"`
	Tokens   int64   `json:"tokens_used"`
	Cost     float64 `json:"cost"`
}

// Record is one immutable usage snapshot. Records are only ever inserted.
type Record struct {
	ID          string     `json:"id"`
	Identity    string     `json:"identity_id"`
	Tier        string     `json:"tier"`
	Aggregates  Aggregates `json:"aggregates"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	PeriodType  PeriodType `json:"period_type"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Query filters history records. Zero fields match everything.
type Query struct {
	Identity   string
	Tier       string
	PeriodType PeriodType

	// StartTime and EndTime bound PeriodStart, inclusive.
	StartTime *time.Time
	EndTime   *time.Time

	// Limit caps the result count. Default: 100
	Limit int
}

// DefaultQueryLimit is used when Query.Limit is zero.
const DefaultQueryLimit = 100

// Store persists history records.
type Store interface {
	// Insert appends a record.
	Insert(ctx context.Context, record *Record) error

	// Query returns matching records, newest period first.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// DeleteBefore removes records whose period ended before cutoff and
	// returns how many were removed. Used only by retention.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources.
	Close() error
}
