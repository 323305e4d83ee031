package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps window entries in a local SQLite file. It is shared by
// processes on one host; writes are serialized by an immediate transaction.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ratelimit_events (
	key TEXT    NOT NULL,
	at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ratelimit_events_key_at ON ratelimit_events(key, at);
`

// Migrate creates the events table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Record implements resilience.WindowStore. Timestamps are stored as unix
// nanoseconds.
func (s *SQLiteStore) Record(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM ratelimit_events WHERE key = ? AND at <= ?`, key, now.Add(-window).UnixNano()); err != nil {
		return 0, false, eris.Wrap(err, "sqlite: prune window")
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM ratelimit_events WHERE key = ?`, key).Scan(&count); err != nil {
		return 0, false, eris.Wrap(err, "sqlite: count window")
	}
	allowed := count < limit
	if allowed {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ratelimit_events (key, at) VALUES (?, ?)`, key, now.UnixNano()); err != nil {
			return 0, false, eris.Wrap(err, "sqlite: insert event")
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, false, eris.Wrap(err, "sqlite: commit")
	}
	return count, allowed, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
