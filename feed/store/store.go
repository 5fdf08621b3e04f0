// Package store provides persistence for per-file feed statistics.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no statistics exist for a file name.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a download ledger for geometry files.
//
// It records:
//   - When each file was first listed by a feed or listing
//   - How many times each file was downloaded, and how many bytes were sent
//
// Implementations:
//   - MemStore: in-process maps, for tests and single-instance servers
//   - SQLiteStore: single-file database (modernc.org/sqlite)
//   - MySQLStore: shared database for several server instances
//
// All implementations are safe for concurrent use.
type Store interface {
	// MarkSeen records that name was observed at t and returns the earliest
	// time the file has ever been observed. Calling it repeatedly with later
	// times never moves the first-seen time forward.
	MarkSeen(ctx context.Context, name string, t time.Time) (time.Time, error)

	// RecordDownload adds one download of name that sent n bytes at time at.
	// A file that was never marked seen is created with FirstSeen = at.
	RecordDownload(ctx context.Context, name string, n int64, at time.Time) error

	// Stats returns the statistics for name, or ErrNotFound.
	Stats(ctx context.Context, name string) (Stats, error)

	// AllStats returns statistics for every known file keyed by name.
	// An empty store returns an empty, non-nil map.
	AllStats(ctx context.Context) (map[string]Stats, error)

	// Close releases resources. Closing twice is a no-op.
	Close() error
}

// Stats holds the ledger entry for one geometry file.
type Stats struct {
	// Name is the file name relative to the data directory.
	Name string

	// FirstSeen is the earliest time the file was observed.
	FirstSeen time.Time

	// Downloads is the number of completed GET downloads.
	Downloads int64

	// BytesServed is the total number of body bytes sent for the file.
	BytesServed int64

	// LastDownload is the time of the latest download, zero if none.
	LastDownload time.Time
}

// fromNanos converts a stored unix-nanosecond column to a time, mapping 0 to
// the zero time.
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// toNanos is the inverse of fromNanos.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// Open returns a Store for the named driver.
//
//   - "memory": MemStore (dsn ignored)
//   - "sqlite": SQLiteStore at path dsn
//   - "mysql": MySQLStore for dsn
//
// An empty driver returns a nil Store and no error; callers treat that as
// "no ledger".
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "":
		return nil, nil
	case "memory":
		return NewMemStore(), nil
	case "sqlite":
		if dsn == "" {
			return nil, errors.New("sqlite store requires a path")
		}
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mysql":
		if dsn == "" {
			return nil, errors.New("mysql store requires a DSN")
		}
		m, err := NewMySQLStore(dsn)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
