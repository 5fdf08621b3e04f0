package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Use it when several gfeed instances serve the same data directory and
// should share one download ledger.
//
// Schema:
//   - feed_files: one row per geometry file
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example:
//
//	user:password@tcp(localhost:3306)/gfeed
//
// Security Warning:
//
//	NEVER hardcode credentials. Read the DSN from the environment
//	(GFEED_MYSQL_DSN) or from a config file with restricted permissions.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore{db: db}

	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	filesTable := `
		CREATE TABLE IF NOT EXISTS feed_files (
			name VARCHAR(255) NOT NULL PRIMARY KEY,
			first_seen BIGINT NOT NULL,
			downloads BIGINT NOT NULL DEFAULT 0,
			bytes_served BIGINT NOT NULL DEFAULT 0,
			last_download BIGINT NOT NULL DEFAULT 0
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin
	`
	if _, err := m.db.ExecContext(ctx, filesTable); err != nil {
		return fmt.Errorf("failed to create feed_files table: %w", err)
	}
	return nil
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// MarkSeen implements Store.
func (m *MySQLStore) MarkSeen(ctx context.Context, name string, t time.Time) (time.Time, error) {
	if err := m.checkOpen(); err != nil {
		return time.Time{}, err
	}

	query := `
		INSERT INTO feed_files (name, first_seen)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE first_seen = LEAST(first_seen, VALUES(first_seen))
	`
	if _, err := m.db.ExecContext(ctx, query, name, toNanos(t)); err != nil {
		return time.Time{}, fmt.Errorf("failed to mark seen: %w", err)
	}

	var firstSeen int64
	err := m.db.QueryRowContext(ctx, "SELECT first_seen FROM feed_files WHERE name = ?", name).Scan(&firstSeen)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load first_seen: %w", err)
	}
	return fromNanos(firstSeen), nil
}

// RecordDownload implements Store.
func (m *MySQLStore) RecordDownload(ctx context.Context, name string, n int64, at time.Time) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO feed_files (name, first_seen, downloads, bytes_served, last_download)
		VALUES (?, ?, 1, ?, ?)
		ON DUPLICATE KEY UPDATE
			downloads = downloads + 1,
			bytes_served = bytes_served + VALUES(bytes_served),
			last_download = VALUES(last_download)
	`
	ts := toNanos(at)
	if _, err := m.db.ExecContext(ctx, query, name, ts, n, ts); err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

// Stats implements Store.
func (m *MySQLStore) Stats(ctx context.Context, name string) (Stats, error) {
	if err := m.checkOpen(); err != nil {
		return Stats{}, err
	}

	var firstSeen, last int64
	st := Stats{Name: name}
	err := m.db.QueryRowContext(ctx, `
		SELECT first_seen, downloads, bytes_served, last_download
		FROM feed_files
		WHERE name = ?
	`, name).Scan(&firstSeen, &st.Downloads, &st.BytesServed, &last)
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
func (m *MySQLStore) AllStats(ctx context.Context) (map[string]Stats, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT name, first_seen, downloads, bytes_served, last_download
		FROM feed_files
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	return scanStats(rows)
}

// Close closes the connection pool. Double-close is a no-op.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// PoolStats returns connection pool statistics.
func (m *MySQLStore) PoolStats() sql.DBStats {
	return m.db.Stats()
}
