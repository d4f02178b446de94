package limits

import (
	"errors"
	"fmt"
	"time"
)

// Window identifies one of the rolling counter windows tracked per identity.
type Window string

const (
	// WindowMinute counts requests over a one minute window.
	WindowMinute Window = "minute"

	// WindowHour counts requests over a one hour window.
	WindowHour Window = "hour"

	// WindowDay counts requests over a one day window.
	WindowDay Window = "day"

	// WindowMonth accumulates cost against the monthly budget.
	WindowMonth Window = "month"
)

// MonthPeriod is the length of the budget window. Windows roll forward from
// the moment of rollover, so a "month" is a fixed 30 days rather than a
// calendar month.
const MonthPeriod = 30 * 24 * time.Hour

// Windows lists every window in evaluation order.
var Windows = []Window{WindowMinute, WindowHour, WindowDay, WindowMonth}

// Period returns the duration of the window.
func (w Window) Period() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowMonth:
		return MonthPeriod
	default:
		return 0
	}
}

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	return w.Period() > 0
}

// WindowStatus reports the request quota of a single counting window.
type WindowStatus struct {
	// Limit is the tier ceiling for the window.
	Limit int64 `json:"limit"`

	// Used is the number of requests counted in the current window.
	Used int64 `json:"used"`

	// Remaining is Limit-Used, floored at zero.
	Remaining int64 `json:"remaining"`

	// ResetAt is when the window next rolls over.
	ResetAt time.Time `json:"reset_at"`
}

// Exceeded reports whether the window blocks further requests.
func (s WindowStatus) Exceeded() bool {
	return s.Used >= s.Limit
}

// BudgetStatus reports the monthly monetary budget.
type BudgetStatus struct {
	// Limit is the tier's monthly budget in USD.
	Limit float64 `json:"limit"`

	// Used is the cost accumulated in the current month window.
	Used float64 `json:"used"`

	// Remaining is Limit-Used, floored at zero.
	Remaining float64 `json:"remaining"`

	// ResetAt is when the month window next rolls over.
	ResetAt time.Time `json:"reset_at"`
}

// Exceeded reports whether the budget blocks further requests.
func (s BudgetStatus) Exceeded() bool {
	return s.Used >= s.Limit
}

// Status is the full quota picture for one identity. It is always populated,
// whether or not the request that produced it was allowed.
type Status struct {
	Identity string       `json:"identity"`
	Tier     TierName     `json:"tier"`
	Minute   WindowStatus `json:"minute"`
	Hour     WindowStatus `json:"hour"`
	Day      WindowStatus `json:"day"`
	Budget   BudgetStatus `json:"budget"`
}

// Window returns the request status of w. WindowMonth has no request status
// and yields the zero value.
func (s *Status) Window(w Window) WindowStatus {
	switch w {
	case WindowMinute:
		return s.Minute
	case WindowHour:
		return s.Hour
	case WindowDay:
		return s.Day
	default:
		return WindowStatus{}
	}
}

// Exceeded returns the windows whose ceiling has been reached, in evaluation
// order. An empty result means the identity may proceed.
func (s *Status) Exceeded() []Window {
	var out []Window
	if s.Minute.Exceeded() {
		out = append(out, WindowMinute)
	}
	if s.Hour.Exceeded() {
		out = append(out, WindowHour)
	}
	if s.Day.Exceeded() {
		out = append(out, WindowDay)
	}
	if s.Budget.Exceeded() {
		out = append(out, WindowMonth)
	}
	return out
}

// CheckResult is returned by Limiter.Check.
type CheckResult struct {
	// Allowed is true iff no window ceiling or budget has been reached.
	Allowed bool `json:"allowed"`

	// Reason names the exceeded windows when Allowed is false.
	Reason string `json:"reason,omitempty"`

	// Status is the full quota status, present regardless of Allowed.
	Status *Status `json:"status"`
}

// Error types for limit violations and system errors.
var (
	// ErrRateLimitExceeded is returned when a caller converts a denied check
	// into an error.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidIdentifier is returned when an identity is empty.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnknownTier is returned when a tier name is not in the catalog.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrStorageFailure is returned when the storage backend fails.
	ErrStorageFailure = errors.New("storage backend failure")

	// ErrConfigInvalid is returned when the tier catalog is invalid.
	ErrConfigInvalid = errors.New("invalid limits configuration")

	// ErrNegativeCost is returned when Increment is given a negative cost.
	ErrNegativeCost = errors.New("cost must not be negative")
)

// ConfigError is a configuration problem rejected at the call boundary:
// an unknown tier name or an invalid catalog. It is never persisted.
type ConfigError struct {
	// Field names what was rejected (tier, catalog, cost).
	Field string

	// Value is the offending value.
	Value string

	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("limits configuration error [%s=%q]: %v", e.Field, e.Value, e.Err)
}

// Unwrap returns the underlying error for error wrapping.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LimitError provides detailed context about a denied request.
type LimitError struct {
	// Identity is the rate limited identity.
	Identity string

	// Windows lists the windows that were exceeded.
	Windows []Window

	// Status is the status at the time of the denial.
	Status *Status
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %s", e.Identity, describeWindows(e.Windows))
}

// Unwrap returns ErrRateLimitExceeded.
func (e *LimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// Err converts a denied result into a *LimitError. It returns nil when the
// result is allowed.
func (r *CheckResult) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	return &LimitError{
		Identity: r.Status.Identity,
		Windows:  r.Status.Exceeded(),
		Status:   r.Status,
	}
}

func describeWindows(windows []Window) string {
	if len(windows) == 0 {
		return "none"
	}
	out := ""
	for i, w := range windows {
		if i > 0 {
			out += ","
		}
		if w == WindowMonth {
			out += "budget"
			continue
		}
		out += string(w)
	}
	return out
}
