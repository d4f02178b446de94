package scheduler

import (
	"context"
	"time"

	"mercator-hq/dispatch/pkg/limits"
)

// JobStore persists scheduled jobs. Implementations must make Transition a
// conditional update on the current status.
type JobStore interface {
	// CreateJob inserts a new pending job.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns a job by ID, or an error wrapping ErrNotFound.
	GetJob(ctx context.Context, id string) (*Job, error)

	// ListDue returns up to limit pending jobs scheduled at or before now,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// ListJobs returns jobs matching filter, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// Transition applies t if the job is still in t.From and returns
	// ErrTransitionConflict otherwise.
	Transition(ctx context.Context, t Transition) error
}

// Agent is an automated sender. OwnerID is the account rate limits are
// charged to; agents without an owner are limited on their own ID.
type Agent struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id,omitempty"`
	Name    string `json:"name"`
}

// LimitIdentity returns the identity rate limits apply to.
func (a *Agent) LimitIdentity() string {
	if a.OwnerID != "" {
		return a.OwnerID
	}
	return a.ID
}

// PlatformAccount is an agent's credentials on one platform.
type PlatformAccount struct {
	ID       string   `json:"id"`
	AgentID  string   `json:"agent_id"`
	Platform Platform `json:"platform"`
	Handle   string   `json:"handle"`
}

// Conversation is a thread with one external party on one platform.
type Conversation struct {
	ID             string    `json:"id"`
	Platform       Platform  `json:"platform"`
	ExternalID     string    `json:"external_id"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Message is a delivered outbound message.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	AgentID        string      `json:"agent_id"`
	Content        string      `json:"content"`
	ContentType    ContentType `json:"content_type"`
	ExternalID     string      `json:"external_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Directory resolves agents and their platform accounts.
type Directory interface {
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetPlatformAccount(ctx context.Context, agentID string, platform Platform) (*PlatformAccount, error)
}

// ConversationStore is the part of the conversation store dispatch touches.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// InsertMessage stores msg under its caller-supplied ID.
	InsertMessage(ctx context.Context, msg *Message) error

	// TouchConversation sets the conversation's last activity time.
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// ChannelStatus is the connectivity of a delivery channel.
type ChannelStatus string

const (
	ChannelConnected    ChannelStatus = "connected"
	ChannelDisconnected ChannelStatus = "disconnected"
	ChannelUnknown      ChannelStatus = "unknown"
)

// Content is the payload handed to a channel.
type Content struct {
	Type ContentType `json:"type"`
	Body string      `json:"body"`
}

// SendResult is what a channel reports after a successful send.
type SendResult struct {
	// ExternalID is the platform's identifier for the delivered message.
	ExternalID string
}

// Channel delivers content on one platform.
type Channel interface {
	Status() ChannelStatus
	Send(ctx context.Context, recipient string, content Content) (*SendResult, error)
}

// ChannelResolver finds the channel for an agent's platform account.
// It returns an error wrapping ErrNotFound when no channel is registered.
type ChannelResolver interface {
	Resolve(ctx context.Context, agent *Agent, account *PlatformAccount) (Channel, error)
}

// Notifier receives best-effort "message created" events.
type Notifier interface {
	MessageCreated(ctx context.Context, conversationID string, msg *Message) error
}

// RateLimiter gates and meters deliveries. *limits.Limiter satisfies it.
type RateLimiter interface {
	Check(ctx context.Context, identity string) (*limits.CheckResult, error)
	Increment(ctx context.Context, identity string, cost float64) (*limits.Status, error)
}
