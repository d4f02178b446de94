package channel

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"mercator-hq/dispatch/pkg/scheduler"
)

// Log is a channel that writes deliveries to the log instead of a platform.
// It is always connected.
type Log struct {
	platform scheduler.Platform
	logger   *slog.Logger
}

// NewLog creates a log channel for platform.
func NewLog(platform scheduler.Platform) *Log {
	return &Log{
		platform: platform,
		logger:   slog.Default().With("component", "channel.log", "platform", string(platform)),
	}
}

// Status implements scheduler.Channel.
func (l *Log) Status() scheduler.ChannelStatus {
	return scheduler.ChannelConnected
}

// Send implements scheduler.Channel.
func (l *Log) Send(ctx context.Context, recipient string, content scheduler.Content) (*scheduler.SendResult, error) {
	id := uuid.NewString()
	l.logger.InfoContext(ctx, "message delivered",
		"recipient", recipient,
		"content_type", content.Type,
		"bytes", len(content.Body),
		"external_id", id,
	)
	return &scheduler.SendResult{ExternalID: id}, nil
}
