package notify

import (
	"context"
	"time"

	"mercator-hq/dispatch/pkg/scheduler"
)

// EventMessageCreated is sent to subscribers when a scheduled message has
// been delivered and stored.
const EventMessageCreated = "message.created"

// Event is the JSON frame pushed to websocket subscribers.
type Event struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversation_id"`
	Message        *scheduler.Message `json:"message,omitempty"`
	At             time.Time          `json:"at"`
}

// command is a frame a subscriber sends to change its subscriptions.
type command struct {
	Type           string `json:"type"` // "subscribe" or "unsubscribe"
	ConversationID string `json:"conversation_id"`
}

// Nop discards every event.
type Nop struct{}

// MessageCreated implements scheduler.Notifier.
func (Nop) MessageCreated(context.Context, string, *scheduler.Message) error {
	return nil
}
