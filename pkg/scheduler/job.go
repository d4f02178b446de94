package scheduler

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a scheduled job.
//
//	pending -> processing -> sent
//	                      -> failed
//
// sent and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusSent || next == StatusFailed
	default:
		return false
	}
}

// ParseStatus converts s to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", &ConfigurationError{Field: "status", Value: s, Reason: "unknown job status"}
	}
	return st, nil
}

// ContentType is the kind of payload a job delivers.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
	ContentFile  ContentType = "file"
)

// Valid reports whether c is a known content type.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentImage, ContentAudio, ContentVideo, ContentFile:
		return true
	}
	return false
}

// ParseContentType converts s to a ContentType.
func ParseContentType(s string) (ContentType, error) {
	c := ContentType(s)
	if !c.Valid() {
		return "", &ConfigurationError{Field: "content_type", Value: s, Reason: "unknown content type"}
	}
	return c, nil
}

// Platform names a messaging platform a conversation lives on, such as
// "telegram" or "whatsapp". Platforms are open-ended; channels register
// against them by name.
type Platform string

// Job is a message scheduled for delivery at a later time.
// Content, ContentType and ScheduledAt never change after creation.
type Job struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	AgentID        string      `json:"agent_id"`
	Content        string      `json:"content"`
	ContentType    ContentType `json:"content_type"`
	ScheduledAt    time.Time   `json:"scheduled_at"`
	Status         Status      `json:"status"`
	SentMessageID  string      `json:"sent_message_id,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Due reports whether the job should be picked up at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == StatusPending && !j.ScheduledAt.After(now)
}

// ScheduleRequest describes a new job.
type ScheduleRequest struct {
	ConversationID string
	AgentID        string
	Content        string
	ContentType    ContentType
	ScheduledAt    time.Time
}

// Validate rejects requests that can never be delivered.
func (r *ScheduleRequest) Validate() error {
	switch {
	case r.ConversationID == "":
		return &ConfigurationError{Field: "conversation_id", Reason: "is required"}
	case r.AgentID == "":
		return &ConfigurationError{Field: "agent_id", Reason: "is required"}
	case r.Content == "":
		return &ConfigurationError{Field: "content", Reason: "is required"}
	case !r.ContentType.Valid():
		return &ConfigurationError{Field: "content_type", Value: string(r.ContentType), Reason: "unknown content type"}
	case r.ScheduledAt.IsZero():
		return &ConfigurationError{Field: "scheduled_at", Reason: "is required"}
	}
	return nil
}

// JobFilter selects jobs for listing. Zero fields match everything.
type JobFilter struct {
	Status         Status
	ConversationID string
	AgentID        string

	// Limit caps the result count. Default: 100
	Limit int
}

// Transition is a conditional status change. It applies only while the job
// is still in From.
type Transition struct {
	JobID         string
	From          Status
	To            Status
	SentMessageID string
	ErrorMessage  string
	At            time.Time
}

// Validate checks the transition against the job state machine.
func (t Transition) Validate() error {
	if t.JobID == "" {
		return fmt.Errorf("transition: job id is required")
	}
	if !t.From.CanTransitionTo(t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	return nil
}
