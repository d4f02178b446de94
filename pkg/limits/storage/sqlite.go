package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It is suitable for single-instance deployments where counters must survive
// restarts, and may share its database with the job store.
//
// SQLiteBackend uses a write-ahead log (WAL) for better concurrent performance
// and periodic checkpointing to balance write performance with durability.
type SQLiteBackend struct {
	db               *sql.DB
	ownsDB           bool
	snapshotInterval time.Duration
	done             chan struct{}
	closeOnce        sync.Once
	now              func() time.Time

	loadStmt   *sql.Stmt
	listStmt   *sql.Stmt
	deleteStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// UsageSchema creates the usage counter table.
const UsageSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_usage (
	identity_id TEXT PRIMARY KEY,
	tier TEXT NOT NULL,
	minute_count INTEGER NOT NULL DEFAULT 0 CHECK (minute_count >= 0),
	minute_reset_at INTEGER NOT NULL,
	hour_count INTEGER NOT NULL DEFAULT 0 CHECK (hour_count >= 0),
	hour_reset_at INTEGER NOT NULL,
	day_count INTEGER NOT NULL DEFAULT 0 CHECK (day_count >= 0),
	day_reset_at INTEGER NOT NULL,
	month_cost REAL NOT NULL DEFAULT 0 CHECK (month_cost >= 0),
	month_reset_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_usage_tier ON rate_limit_usage(tier);
`

const usageColumns = `identity_id, tier, minute_count, minute_reset_at, hour_count, hour_reset_at,
	day_count, day_reset_at, month_cost, month_reset_at, updated_at, created_at`

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:           dbPath,
		SnapshotInterval: 5 * time.Minute,
		BusyTimeout:      5 * time.Second,
	})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend, err := newSQLiteBackend(db, true, cfg.SnapshotInterval)
	if err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

// NewSQLiteBackendWithDB creates a backend on an already open database, for
// example the one shared with the job store. The caller keeps ownership of db.
func NewSQLiteBackendWithDB(db *sql.DB) (*SQLiteBackend, error) {
	return newSQLiteBackend(db, false, 0)
}

func newSQLiteBackend(db *sql.DB, owns bool, snapshotInterval time.Duration) (*SQLiteBackend, error) {
	backend := &SQLiteBackend{
		db:               db,
		ownsDB:           owns,
		snapshotInterval: snapshotInterval,
		done:             make(chan struct{}),
		now:              time.Now,
	}

	if _, err := db.Exec(UsageSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	if owns && snapshotInterval > 0 {
		go backend.checkpointLoop()
	}

	return backend, nil
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.loadStmt, err = s.db.Prepare(`SELECT ` + usageColumns + ` FROM rate_limit_usage WHERE identity_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`SELECT ` + usageColumns + ` FROM rate_limit_usage ORDER BY identity_id`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM rate_limit_usage WHERE identity_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	return nil
}

// Update implements Backend. The insert-if-absent, the read and the write run
// in one transaction, and the insert comes first so the transaction holds the
// write lock before it reads.
func (s *SQLiteBackend) Update(ctx context.Context, identity string, seed *UsageCounter, fn func(*UsageCounter) error) (*UsageCounter, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	now := s.now()
	if seed != nil {
		created := seed.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rate_limit_usage (`+usageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (identity_id) DO NOTHING`,
			identity, seed.Tier,
			seed.Minute.Count, seed.Minute.ResetAt.UnixNano(),
			seed.Hour.Count, seed.Hour.ResetAt.UnixNano(),
			seed.Day.Count, seed.Day.ResetAt.UnixNano(),
			seed.Month.Cost, seed.Month.ResetAt.UnixNano(),
			now.UnixNano(), created.UnixNano(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert counter: %w", err)
		}
	}

	counter, err := scanCounter(tx.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM rate_limit_usage WHERE identity_id = ?`, identity))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no counter for %q and no seed given", identity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load counter: %w", err)
	}

	if err := fn(counter); err != nil {
		return nil, err
	}
	counter.Identity = identity
	counter.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE rate_limit_usage SET
			tier = ?,
			minute_count = ?, minute_reset_at = ?,
			hour_count = ?, hour_reset_at = ?,
			day_count = ?, day_reset_at = ?,
			month_cost = ?, month_reset_at = ?,
			updated_at = ?
		WHERE identity_id = ?`,
		counter.Tier,
		counter.Minute.Count, counter.Minute.ResetAt.UnixNano(),
		counter.Hour.Count, counter.Hour.ResetAt.UnixNano(),
		counter.Day.Count, counter.Day.ResetAt.UnixNano(),
		counter.Month.Cost, counter.Month.ResetAt.UnixNano(),
		counter.UpdatedAt.UnixNano(),
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit counter: %w", err)
	}

	return counter, nil
}

// Load implements Backend.
func (s *SQLiteBackend) Load(ctx context.Context, identity string) (*UsageCounter, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	counter, err := scanCounter(s.loadStmt.QueryRowContext(ctx, identity))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load counter: %w", err)
	}
	return counter, nil
}

// List implements Backend.
func (s *SQLiteBackend) List(ctx context.Context) ([]*UsageCounter, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	defer rows.Close()

	var counters []*UsageCounter
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counters = append(counters, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counters, nil
}

// Delete implements Backend.
func (s *SQLiteBackend) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	if _, err := s.deleteStmt.ExecContext(ctx, identity); err != nil {
		return fmt.Errorf("failed to delete counter: %w", err)
	}
	return nil
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.loadStmt, s.listStmt, s.deleteStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.ownsDB && s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCounter(row rowScanner) (*UsageCounter, error) {
	var (
		c                                         UsageCounter
		minuteReset, hourReset, dayReset, monthRe int64
		updatedAt, createdAt                      int64
	)

	err := row.Scan(
		&c.Identity, &c.Tier,
		&c.Minute.Count, &minuteReset,
		&c.Hour.Count, &hourReset,
		&c.Day.Count, &dayReset,
		&c.Month.Cost, &monthRe,
		&updatedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.Minute.ResetAt = time.Unix(0, minuteReset)
	c.Hour.ResetAt = time.Unix(0, hourReset)
	c.Day.ResetAt = time.Unix(0, dayReset)
	c.Month.ResetAt = time.Unix(0, monthRe)
	c.UpdatedAt = time.Unix(0, updatedAt)
	c.CreatedAt = time.Unix(0, createdAt)
	return &c, nil
}
