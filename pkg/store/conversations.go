package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mercator-hq/dispatch/pkg/scheduler"
)

// CreateConversation inserts conv, or updates its platform and external ID
// if it already exists.
func (d *DB) CreateConversation(ctx context.Context, conv *scheduler.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO conversations (id, platform, external_id, last_activity_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET platform = excluded.platform, external_id = excluded.external_id`,
		conv.ID, string(conv.Platform), conv.ExternalID, toNanos(conv.LastActivityAt), d.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation implements scheduler.ConversationStore.
func (d *DB) GetConversation(ctx context.Context, id string) (*scheduler.Conversation, error) {
	var (
		conv     scheduler.Conversation
		platform string
		activity int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, platform, external_id, last_activity_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &platform, &conv.ExternalID, &activity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation %s", scheduler.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	conv.Platform = scheduler.Platform(platform)
	conv.LastActivityAt = fromNanos(activity)
	return &conv, nil
}

// InsertMessage implements scheduler.ConversationStore.
func (d *DB) InsertMessage(ctx context.Context, msg *scheduler.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO messages
		(id, conversation_id, agent_id, content, content_type, external_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.AgentID, msg.Content, string(msg.ContentType),
		nullString(msg.ExternalID), toNanos(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// TouchConversation implements scheduler.ConversationStore.
func (d *DB) TouchConversation(ctx context.Context, id string, at time.Time) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: conversation %s", scheduler.ErrNotFound, id)
	}
	return nil
}

// ListMessages returns up to limit messages of a conversation, oldest first.
func (d *DB) ListMessages(ctx context.Context, conversationID string, limit int) ([]*scheduler.Message, error) {
	if limit <= 0 {
		limit = scheduler.DefaultListLimit
	}
	rows, err := d.db.QueryContext(ctx, `SELECT id, conversation_id, agent_id, content, content_type, external_id, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []*scheduler.Message{}
	for rows.Next() {
		var (
			msg         scheduler.Message
			contentType string
			externalID  sql.NullString
			created     int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.AgentID, &msg.Content, &contentType, &externalID, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ContentType = scheduler.ContentType(contentType)
		msg.ExternalID = externalID.String
		msg.CreatedAt = fromNanos(created)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
