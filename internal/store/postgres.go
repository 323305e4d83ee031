package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vision-cli/internal/db"
)

// PostgresStore keeps window entries in a table and serializes writers per
// key with a transaction-scoped advisory lock.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps a pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ratelimit_events (
	key TEXT        NOT NULL,
	at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ratelimit_events_key_at ON ratelimit_events(key, at);
`

// Migrate creates the events table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Record implements resilience.WindowStore.
func (s *PostgresStore) Record(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (int, bool, error) {
	var (
		count   int
		allowed bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return eris.Wrap(err, "postgres: lock window")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM ratelimit_events WHERE key = $1 AND at <= $2`, key, now.Add(-window)); err != nil {
			return eris.Wrap(err, "postgres: prune window")
		}
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM ratelimit_events WHERE key = $1`, key).Scan(&count); err != nil {
			return eris.Wrap(err, "postgres: count window")
		}
		if count >= limit {
			return nil
		}
		if _, err := tx.Exec(ctx, `INSERT INTO ratelimit_events (key, at) VALUES ($1, $2)`, key, now); err != nil {
			return eris.Wrap(err, "postgres: insert event")
		}
		count++
		allowed = true
		return nil
	})
	if err != nil {
		return 0, false, eris.Wrapf(err, "postgres: record %s", key)
	}
	return count, allowed, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
