package ratelimit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLimiter persists the rate-limit ledger in the `rate_events`
// table, for the discovery-service's durable-across-restart
// limits (session_create, session_lookup, session_join).
type SQLiteLimiter struct {
	logger *slog.Logger

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteLimiter opens (or creates) the sqlite database at path and
// ensures the rate_events table and its index exist. Passing an empty
// path opens an in-memory database; call SetDB later to attach a real
// file -- the last call to either NewSQLiteLimiter or SetDB wins.
func NewSQLiteLimiter(logger *slog.Logger, path string) (*SQLiteLimiter, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open rate limiter db %s: %w", path, err)
	}

	l := &SQLiteLimiter{logger: logger, db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// SetDB swaps the backing *sql.DB, closing the previous one. Any
// in-flight Check/Record calls complete against whichever db was live
// when they started.
func (l *SQLiteLimiter) SetDB(db *sql.DB) error {
	l.mu.Lock()
	old := l.db
	l.db = db
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return l.migrate()
}

func (l *SQLiteLimiter) migrate() error {
	l.mu.RLock()
	db := l.db
	l.mu.RUnlock()

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_events (
			ip TEXT NOT NULL,
			kind TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rate_events_ip_kind_ts
			ON rate_events (ip, kind, timestamp_ms);
	`)
	if err != nil {
		return fmt.Errorf("migrate rate_events: %w", err)
	}
	return nil
}

// Check counts rate_events rows for (ip, kind) within the window and
// compares against the configured limit.
func (l *SQLiteLimiter) Check(ip string, kind Kind, override *Limit) (bool, error) {
	lim := limitFor(kind, override)
	cutoffMs := nowFunc().Add(-lim.Window).UnixMilli()

	l.mu.RLock()
	db := l.db
	l.mu.RUnlock()

	var count int
	row := db.QueryRow(
		`SELECT COUNT(*) FROM rate_events WHERE ip = ? AND kind = ? AND timestamp_ms >= ?`,
		ip, string(kind), cutoffMs,
	)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("rate limiter check: %w", err)
	}
	return count < lim.Max, nil
}

// Record inserts a new rate_events row for (ip, kind) at the current time.
func (l *SQLiteLimiter) Record(ip string, kind Kind) error {
	l.mu.RLock()
	db := l.db
	l.mu.RUnlock()

	_, err := db.Exec(
		`INSERT INTO rate_events (ip, kind, timestamp_ms) VALUES (?, ?, ?)`,
		ip, string(kind), nowFunc().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("rate limiter record: %w", err)
	}
	return nil
}

// Cleanup deletes rate_events older than maxAge, matching the
// discovery-service's 5-minute cleanup ticker.
func (l *SQLiteLimiter) Cleanup(maxAge time.Duration) error {
	cutoffMs := nowFunc().Add(-maxAge).UnixMilli()

	l.mu.RLock()
	db := l.db
	l.mu.RUnlock()

	res, err := db.Exec(`DELETE FROM rate_events WHERE timestamp_ms < ?`, cutoffMs)
	if err != nil {
		return fmt.Errorf("rate limiter cleanup: %w", err)
	}
	if l.logger != nil {
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			l.logger.Debug("rate limiter cleanup", "evicted", n)
		}
	}
	return nil
}

// Destroy closes the backing database handle.
func (l *SQLiteLimiter) Destroy() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
