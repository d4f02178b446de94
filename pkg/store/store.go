package store

import (
	"context"
	"io"

	"mercator-hq/dispatch/pkg/scheduler"
)

// Store is everything the dispatcher and its admin commands need.
// *DB and *Memory implement it.
type Store interface {
	scheduler.JobStore
	scheduler.ConversationStore
	scheduler.Directory
	io.Closer

	CreateAgent(ctx context.Context, agent *scheduler.Agent) error
	CreatePlatformAccount(ctx context.Context, account *scheduler.PlatformAccount) error
	CreateConversation(ctx context.Context, conv *scheduler.Conversation) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*scheduler.Message, error)
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Memory)(nil)
)
