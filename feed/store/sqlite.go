package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps the download ledger in a single-file database. Designed for:
//   - Single-instance deployments that must survive restarts
//   - Development and testing with zero setup (":memory:")
//
// Features:
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - Upserts, so every write is a single statement
//
// Schema:
//   - feed_files: one row per geometry file
//
// Timestamps are stored as unix nanoseconds (0 = unset).
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./gfeed.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore("/var/lib/gfeed/ledger.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait up to 5 seconds for locks
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		path: path,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	filesTable := `
		CREATE TABLE IF NOT EXISTS feed_files (
			name TEXT NOT NULL PRIMARY KEY,
			first_seen INTEGER NOT NULL,
			downloads INTEGER NOT NULL DEFAULT 0,
			bytes_served INTEGER NOT NULL DEFAULT 0,
			last_download INTEGER NOT NULL DEFAULT 0
		)
	`
	if _, err := s.db.ExecContext(ctx, filesTable); err != nil {
		return fmt.Errorf("failed to create feed_files table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// MarkSeen implements Store.
func (s *SQLiteStore) MarkSeen(ctx context.Context, name string, t time.Time) (time.Time, error) {
	if err := s.checkOpen(); err != nil {
		return time.Time{}, err
	}

	query := `
		INSERT INTO feed_files (name, first_seen)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			first_seen = MIN(first_seen, excluded.first_seen)
	`
	if _, err := s.db.ExecContext(ctx, query, name, toNanos(t)); err != nil {
		return time.Time{}, fmt.Errorf("failed to mark seen: %w", err)
	}

	var firstSeen int64
	err := s.db.QueryRowContext(ctx, "SELECT first_seen FROM feed_files WHERE name = ?", name).Scan(&firstSeen)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load first_seen: %w", err)
	}
	return fromNanos(firstSeen), nil
}

// RecordDownload implements Store.
func (s *SQLiteStore) RecordDownload(ctx context.Context, name string, n int64, at time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO feed_files (name, first_seen, downloads, bytes_served, last_download)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			downloads = downloads + 1,
			bytes_served = bytes_served + excluded.bytes_served,
			last_download = excluded.last_download
	`
	ts := toNanos(at)
	if _, err := s.db.ExecContext(ctx, query, name, ts, n, ts); err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context, name string) (Stats, error) {
	if err := s.checkOpen(); err != nil {
		return Stats{}, err
	}

	query := `
		SELECT first_seen, downloads, bytes_served, last_download
		FROM feed_files
		WHERE name = ?
	`
	var firstSeen, last int64
	st := Stats{Name: name}
	err := s.db.QueryRowContext(ctx, query, name).Scan(&firstSeen, &st.Downloads, &st.BytesServed, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, ErrNotFound
	}
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load stats: %w", err)
	}
	st.FirstSeen = fromNanos(firstSeen)
	st.LastDownload = fromNanos(last)
	return st, nil
}

// AllStats implements Store.
func (s *SQLiteStore) AllStats(ctx context.Context) (map[string]Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, first_seen, downloads, bytes_served, last_download
		FROM feed_files
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	return scanStats(rows)
}

// Close closes the database connection. Double-close is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

// scanStats reads (name, first_seen, downloads, bytes_served, last_download)
// rows into a map.
func scanStats(rows *sql.Rows) (map[string]Stats, error) {
	out := make(map[string]Stats)
	for rows.Next() {
		var st Stats
		var firstSeen, last int64
		if err := rows.Scan(&st.Name, &firstSeen, &st.Downloads, &st.BytesServed, &last); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		st.FirstSeen = fromNanos(firstSeen)
		st.LastDownload = fromNanos(last)
		out[st.Name] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats: %w", err)
	}
	return out, nil
}
