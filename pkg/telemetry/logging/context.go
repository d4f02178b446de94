package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// PollIDKey is the context key for the poll cycle ID.
	PollIDKey contextKey = "poll_id"

	// JobIDKey is the context key for scheduled job IDs.
	JobIDKey contextKey = "job_id"

	// ConversationIDKey is the context key for conversation IDs.
	ConversationIDKey contextKey = "conversation_id"

	// IdentityKey is the context key for rate limited identities.
	IdentityKey contextKey = "identity"
)

// orderedKeys fixes the order context fields appear in.
var orderedKeys = []contextKey{PollIDKey, JobIDKey, ConversationIDKey, IdentityKey}

// WithPollID adds a poll cycle ID to the context.
func WithPollID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, PollIDKey, id)
}

// WithJobID adds a job ID to the context.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, JobIDKey, id)
}

// WithConversationID adds a conversation ID to the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// WithIdentity adds a rate limited identity to the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// Get returns the string stored under key, or "".
func Get(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
// Returns a slice of key-value pairs suitable for logger.With().
func extractContextFields(ctx context.Context) []any {
	var fields []any
	for _, key := range orderedKeys {
		if v := Get(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}

// FromContext returns base with the context's log fields attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	fields := extractContextFields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
