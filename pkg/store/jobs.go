package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mercator-hq/dispatch/pkg/scheduler"
)

const jobColumns = `id, conversation_id, agent_id, content, content_type, scheduled_at, status,
	sent_message_id, error_message, created_at, updated_at`

// CreateJob implements scheduler.JobStore.
func (d *DB) CreateJob(ctx context.Context, job *scheduler.Job) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO scheduled_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ConversationID, job.AgentID, job.Content, string(job.ContentType),
		toNanos(job.ScheduledAt), string(job.Status),
		nullString(job.SentMessageID), nullString(job.ErrorMessage),
		toNanos(job.CreatedAt), toNanos(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob implements scheduler.JobStore.
func (d *DB) GetJob(ctx context.Context, id string) (*scheduler.Job, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", scheduler.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListDue implements scheduler.JobStore.
func (d *DB) ListDue(ctx context.Context, now time.Time, limit int) ([]*scheduler.Job, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, created_at ASC
		LIMIT ?`,
		string(scheduler.StatusPending), now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListJobs implements scheduler.JobStore.
func (d *DB) ListJobs(ctx context.Context, filter scheduler.JobFilter) ([]*scheduler.Job, error) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ConversationID != "" {
		conditions = append(conditions, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY scheduled_at DESC, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = scheduler.DefaultListLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// Transition implements scheduler.JobStore. The update only matches while
// the job is still in t.From.
func (d *DB) Transition(ctx context.Context, t scheduler.Transition) error {
	if err := t.Validate(); err != nil {
		return err
	}

	at := t.At
	if at.IsZero() {
		at = d.now()
	}

	result, err := d.db.ExecContext(ctx, `UPDATE scheduled_jobs SET
			status = ?,
			sent_message_id = COALESCE(?, sent_message_id),
			error_message = COALESCE(?, error_message),
			updated_at = ?
		WHERE id = ? AND status = ?`,
		string(t.To), nullString(t.SentMessageID), nullString(t.ErrorMessage), at.UnixNano(),
		t.JobID, string(t.From),
	)
	if err != nil {
		return fmt.Errorf("transition job %s: %w", t.JobID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition job %s: %w", t.JobID, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = d.db.QueryRowContext(ctx, `SELECT 1 FROM scheduled_jobs WHERE id = ?`, t.JobID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: job %s", scheduler.ErrNotFound, t.JobID)
	}
	if err != nil {
		return fmt.Errorf("transition job %s: %w", t.JobID, err)
	}
	return fmt.Errorf("%w: job %s is not %s", scheduler.ErrTransitionConflict, t.JobID, t.From)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*scheduler.Job, error) {
	var (
		job                      scheduler.Job
		contentType, status      string
		sentMessageID, errMsg    sql.NullString
		scheduledAt, created, up int64
	)
	err := row.Scan(
		&job.ID, &job.ConversationID, &job.AgentID, &job.Content, &contentType,
		&scheduledAt, &status, &sentMessageID, &errMsg, &created, &up,
	)
	if err != nil {
		return nil, err
	}

	job.ContentType = scheduler.ContentType(contentType)
	job.Status = scheduler.Status(status)
	job.ScheduledAt = fromNanos(scheduledAt)
	job.SentMessageID = sentMessageID.String
	job.ErrorMessage = errMsg.String
	job.CreatedAt = fromNanos(created)
	job.UpdatedAt = fromNanos(up)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*scheduler.Job, error) {
	defer rows.Close()

	jobs := []*scheduler.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
