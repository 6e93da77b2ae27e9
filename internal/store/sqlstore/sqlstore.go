// Package sqlstore provides a database/sql counting backend with SQLite and
// PostgreSQL drivers, for deployments that want counters to survive restarts.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"rategate/internal/common/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS rate_counters (
	counter_key TEXT PRIMARY KEY,
	count BIGINT NOT NULL,
	reset_at BIGINT NOT NULL
)`

// The whole read-modify-write is a single upsert so concurrent increments
// on one key serialize inside the database.
const incrementQuery = `
INSERT INTO rate_counters (counter_key, count, reset_at) VALUES (?, ?, ?)
ON CONFLICT (counter_key) DO UPDATE SET
	count = CASE WHEN rate_counters.reset_at <= ? THEN excluded.count ELSE rate_counters.count + excluded.count END,
	reset_at = CASE WHEN rate_counters.reset_at <= ? THEN excluded.reset_at ELSE rate_counters.reset_at END
RETURNING count, reset_at`

const peekQuery = `SELECT count, reset_at FROM rate_counters WHERE counter_key = ?`

// Store is a SQL-backed counting backend.
type Store struct {
	db     *sql.DB
	driver string
}

// New opens a SQL counting backend. Supported drivers are "sqlite3" and
// "pgx"; the schema is created on open if it does not exist.
func New(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite3", "pgx":
	default:
		return nil, fmt.Errorf("unsupported sql store driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create rate_counters table: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Increment atomically adds cost to the counter for key, starting a fresh
// window if the stored one has expired.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration, cost int64) (int64, time.Time, error) {
	now := time.Now()
	resetAt := now.Add(window)

	var count, resetNanos int64
	err := s.db.QueryRowContext(ctx, s.rebind(incrementQuery),
		key, cost, resetAt.UnixNano(), now.UnixNano(), now.UnixNano(),
	).Scan(&count, &resetNanos)
	if err != nil {
		return 0, time.Time{}, errors.BackendError("failed to increment rate limit counter", err).
			WithContext("key", key)
	}

	return count, time.Unix(0, resetNanos), nil
}

// Peek returns the current count and reset time for key without mutating it.
func (s *Store) Peek(ctx context.Context, key string) (int64, time.Time, error) {
	var count, resetNanos int64
	err := s.db.QueryRowContext(ctx, s.rebind(peekQuery), key).Scan(&count, &resetNanos)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, errors.BackendError("failed to read rate limit counter", err).
			WithContext("key", key)
	}

	resetAt := time.Unix(0, resetNanos)
	if !time.Now().Before(resetAt) {
		return 0, time.Time{}, nil
	}

	return count, resetAt, nil
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PurgeExpired deletes rows whose window has ended. Intended to be run
// periodically by the host process.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM rate_counters WHERE reset_at <= ?`), time.Now().UnixNano())
	if err != nil {
		return 0, errors.BackendError("failed to purge expired rate limit counters", err)
	}
	return res.RowsAffected()
}
