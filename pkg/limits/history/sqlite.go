package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema creates the history table.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limit_history (
    id TEXT PRIMARY KEY,
    identity_id TEXT NOT NULL,
    tier TEXT NOT NULL,
    requests_count INTEGER NOT NULL CHECK (requests_count >= 0),
    tokens_used INTEGER NOT NULL CHECK (tokens_used >= 0),
    cost REAL NOT NULL CHECK (cost >= 0),
    period_start TIMESTAMP NOT NULL,
    period_end TIMESTAMP NOT NULL,
    period_type TEXT NOT NULL CHECK (period_type IN ('hour', 'day', 'month')),
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_history_identity ON rate_limit_history(identity_id, period_start);
CREATE INDEX IF NOT EXISTS idx_rate_limit_history_period_end ON rate_limit_history(period_end);
`

const historyColumns = `id, identity_id, tier, requests_count, tokens_used, cost,
	period_start, period_end, period_type, created_at`

// SQLiteConfig contains configuration for the SQLite history store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 4
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging mode.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/history.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	config     *SQLiteConfig
	insertStmt *sql.Stmt
	logger     *slog.Logger
}

// NewSQLiteStore opens (or creates) the history database.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "history.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("history storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)

	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}

	stmt, err := s.db.Prepare(`INSERT INTO rate_limit_history (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewStorageError("sqlite", "prepare_insert", err)
	}
	s.insertStmt = stmt

	return nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, r *Record) error {
	_, err := s.insertStmt.ExecContext(ctx,
		r.ID, r.Identity, r.Tier,
		r.Aggregates.Requests, r.Aggregates.Tokens, r.Aggregates.Cost,
		r.PeriodStart.UTC(), r.PeriodEnd.UTC(), string(r.PeriodType), r.CreatedAt.UTC(),
	)
	if err != nil {
		return NewStorageError("sqlite", "insert", err)
	}
	return nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, q *Query) ([]*Record, error) {
	if q == nil {
		q = &Query{}
	}

	where, args := buildWhereClause(q)
	sqlQuery := "SELECT " + historyColumns + " FROM rate_limit_history"
	if where != "" {
		sqlQuery += " WHERE " + where
	}
	sqlQuery += " ORDER BY period_start DESC, id"

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		var r Record
		var periodType string
		if err := rows.Scan(
			&r.ID, &r.Identity, &r.Tier,
			&r.Aggregates.Requests, &r.Aggregates.Tokens, &r.Aggregates.Cost,
			&r.PeriodStart, &r.PeriodEnd, &periodType, &r.CreatedAt,
		); err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		r.PeriodType = PeriodType(periodType)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}

	return records, nil
}

// DeleteBefore implements Store.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rate_limit_history WHERE period_end < ?", cutoff.UTC())
	if err != nil {
		return 0, NewStorageError("sqlite", "delete", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Close releases resources held by the store.
func (s *SQLiteStore) Close() error {
	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if err := s.db.Close(); err != nil {
		return NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("history storage closed")
	return nil
}

// buildWhereClause builds a SQL WHERE clause from query filters.
// Returns the clause without the WHERE keyword, and its arguments.
func buildWhereClause(q *Query) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if q.Identity != "" {
		conditions = append(conditions, "identity_id = ?")
		args = append(args, q.Identity)
	}
	if q.Tier != "" {
		conditions = append(conditions, "tier = ?")
		args = append(args, q.Tier)
	}
	if q.PeriodType != "" {
		conditions = append(conditions, "period_type = ?")
		args = append(args, string(q.PeriodType))
	}
	if q.StartTime != nil {
		conditions = append(conditions, "period_start >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if q.EndTime != nil {
		conditions = append(conditions, "period_start <= ?")
		args = append(args, q.EndTime.UTC())
	}

	return strings.Join(conditions, " AND "), args
}
