package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schema string

// Config configures the SQLite store.
type Config struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Path:        "data/dispatch.db",
		BusyTimeout: 5 * time.Second,
		WALMode:     true,
	}
}

// DB is the relational store shared by the scheduler and the rate limiter.
// It implements scheduler.JobStore, scheduler.ConversationStore and
// scheduler.Directory.
type DB struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// Open opens (or creates) the database at cfg.Path and applies the schema.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	journal := "DELETE"
	if cfg.WALMode {
		journal = "WAL"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		cfg.Path, journal, cfg.BusyTimeout.Milliseconds())

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection keeps transactions
	// from tripping over each other's locks.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger := slog.Default().With("component", "store.sqlite")
	logger.Info("database opened", "path", cfg.Path, "wal_mode", cfg.WALMode)

	return &DB{
		db:     sqlDB,
		path:   cfg.Path,
		now:    time.Now,
		logger: logger,
	}, nil
}

// SQL returns the underlying handle so other components can share the
// database file, as the rate limiter's usage table does.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
