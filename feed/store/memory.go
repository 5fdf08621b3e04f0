package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Single-instance servers where counts may reset on restart
//
// MemStore is thread-safe and supports concurrent access.
type MemStore struct {
	mu     sync.RWMutex
	stats  map[string]Stats
	closed bool
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		stats: make(map[string]Stats),
	}
}

// MarkSeen implements Store.
func (m *MemStore) MarkSeen(_ context.Context, name string, t time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return time.Time{}, ErrClosed
	}

	t = t.UTC()
	st, ok := m.stats[name]
	if !ok {
		st = Stats{Name: name, FirstSeen: t}
	} else if t.Before(st.FirstSeen) {
		st.FirstSeen = t
	}
	m.stats[name] = st
	return st.FirstSeen, nil
}

// RecordDownload implements Store.
func (m *MemStore) RecordDownload(_ context.Context, name string, n int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	at = at.UTC()
	st, ok := m.stats[name]
	if !ok {
		st = Stats{Name: name, FirstSeen: at}
	}
	st.Downloads++
	st.BytesServed += n
	st.LastDownload = at
	m.stats[name] = st
	return nil
}

// Stats implements Store.
func (m *MemStore) Stats(_ context.Context, name string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Stats{}, ErrClosed
	}

	st, ok := m.stats[name]
	if !ok {
		return Stats{}, ErrNotFound
	}
	return st, nil
}

// AllStats implements Store.
func (m *MemStore) AllStats(_ context.Context) (map[string]Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	out := make(map[string]Stats, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out, nil
}

// Close implements Store.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
