package channel

import "fmt"

// SendError is a rejected or failed delivery attempt.
type SendError struct {
	// Channel is the configured channel name.
	Channel string

	// StatusCode is the HTTP status code (0 if not applicable).
	StatusCode int

	// Message is the error message.
	Message string

	// Cause is the underlying error (if any).
	Cause error
}

// Error implements the error interface.
func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("channel %q send failed (status %d): %s", e.Channel, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("channel %q send failed: %s", e.Channel, e.Message)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the platform might accept the same request later.
func (e *SendError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
