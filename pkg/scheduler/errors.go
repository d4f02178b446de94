package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by collaborators when a lookup finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrTransitionConflict is returned by JobStore.Transition when the job
	// is no longer in the expected state.
	ErrTransitionConflict = errors.New("job status changed concurrently")

	// ErrInvalidTransition is returned for transitions the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ConfigurationError is input rejected at the call boundary. Nothing is
// persisted when it is returned.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ResolutionError means something a job needs could not be found: the agent,
// the conversation, the platform account, the channel or the recipient.
type ResolutionError struct {
	// Resource is what was missing ("agent", "platform account", ...).
	Resource string

	// Key identifies what was looked up.
	Key   string
	Cause error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("no %s for %s", e.Resource, e.Key)
	if e.Cause != nil && !errors.Is(e.Cause, ErrNotFound) {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// ChannelUnavailableError means the channel exists but is not connected.
type ChannelUnavailableError struct {
	Platform Platform
	Status   ChannelStatus
}

// Error implements the error interface.
func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("%s channel unavailable (status %s)", e.Platform, e.Status)
}

// DeliveryError means the channel rejected or failed the send.
// Failed deliveries are not retried.
type DeliveryError struct {
	Platform  Platform
	Recipient string
	Cause     error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s on %s failed: %v", e.Recipient, e.Platform, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// StoreError is a persistence failure. It aborts the rest of the batch but
// never stops the scheduler.
type StoreError struct {
	Operation string
	JobID     string
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("store error [operation=%s, job=%s]: %v", e.Operation, e.JobID, e.Cause)
	}
	return fmt.Sprintf("store error [operation=%s]: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

func newStoreError(operation, jobID string, cause error) *StoreError {
	return &StoreError{Operation: operation, JobID: jobID, Cause: cause}
}

// failureReason classifies a per-job failure for metrics.
func failureReason(err error) string {
	var (
		resErr   *ResolutionError
		chanErr  *ChannelUnavailableError
		delivErr *DeliveryError
	)
	switch {
	case errors.As(err, &resErr):
		return "resolution"
	case errors.As(err, &chanErr):
		return "channel_unavailable"
	case errors.As(err, &delivErr):
		return "delivery"
	case isRateLimited(err):
		return "rate_limited"
	default:
		return "other"
	}
}
