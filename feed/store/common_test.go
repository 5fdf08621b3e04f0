package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/gfeed/feed/store"
)

// TestStoreContract runs the same ledger scenario against every Store
// implementation that is available in the test environment.
func TestStoreContract(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store {
			return store.NewMemStore()
		},
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			return s
		},
		"mysql": func(t *testing.T) store.Store {
			dsn := os.Getenv("TEST_MYSQL_DSN")
			if dsn == "" {
				t.Skip("Skipping MySQL contract: TEST_MYSQL_DSN not set")
			}
			s, err := store.NewMySQLStore(dsn)
			if err != nil {
				t.Fatalf("NewMySQLStore: %v", err)
			}
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer func() { _ = s.Close() }()
			runContract(t, s)
		})
	}
}

func runContract(t *testing.T, s store.Store) {
	ctx := context.Background()
	prefix := time.Now().Format("150405.000000000") + "-"
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stats of unknown file", func(t *testing.T) {
		_, err := s.Stats(ctx, prefix+"missing.g")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("first seen never moves forward", func(t *testing.T) {
		name := prefix + "moss.g"
		got, err := s.MarkSeen(ctx, name, base)
		if err != nil {
			t.Fatalf("MarkSeen: %v", err)
		}
		if !got.Equal(base) {
			t.Errorf("first seen = %v, want %v", got, base)
		}

		got, err = s.MarkSeen(ctx, name, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("MarkSeen later: %v", err)
		}
		if !got.Equal(base) {
			t.Errorf("later MarkSeen moved first seen to %v", got)
		}

		earlier := base.Add(-time.Hour)
		got, err = s.MarkSeen(ctx, name, earlier)
		if err != nil {
			t.Fatalf("MarkSeen earlier: %v", err)
		}
		if !got.Equal(earlier) {
			t.Errorf("earlier MarkSeen = %v, want %v", got, earlier)
		}
	})

	t.Run("downloads accumulate", func(t *testing.T) {
		name := prefix + "havoc.g"
		if _, err := s.MarkSeen(ctx, name, base); err != nil {
			t.Fatalf("MarkSeen: %v", err)
		}
		for i := 1; i <= 3; i++ {
			if err := s.RecordDownload(ctx, name, 100, base.Add(time.Duration(i)*time.Minute)); err != nil {
				t.Fatalf("RecordDownload %d: %v", i, err)
			}
		}

		st, err := s.Stats(ctx, name)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Downloads != 3 {
			t.Errorf("Downloads = %d, want 3", st.Downloads)
		}
		if st.BytesServed != 300 {
			t.Errorf("BytesServed = %d, want 300", st.BytesServed)
		}
		if !st.LastDownload.Equal(base.Add(3 * time.Minute)) {
			t.Errorf("LastDownload = %v", st.LastDownload)
		}
		if !st.FirstSeen.Equal(base) {
			t.Errorf("FirstSeen = %v, want %v", st.FirstSeen, base)
		}
	})

	t.Run("download of unseen file creates entry", func(t *testing.T) {
		name := prefix + "ktank.g"
		at := base.Add(24 * time.Hour)
		if err := s.RecordDownload(ctx, name, 7, at); err != nil {
			t.Fatalf("RecordDownload: %v", err)
		}
		st, err := s.Stats(ctx, name)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if !st.FirstSeen.Equal(at) || st.Downloads != 1 {
			t.Errorf("unexpected stats: %+v", st)
		}
	})

	t.Run("all stats", func(t *testing.T) {
		all, err := s.AllStats(ctx)
		if err != nil {
			t.Fatalf("AllStats: %v", err)
		}
		for _, name := range []string{"moss.g", "havoc.g", "ktank.g"} {
			if _, ok := all[prefix+name]; !ok {
				t.Errorf("AllStats missing %s", name)
			}
		}
	})

	t.Run("concurrent downloads", func(t *testing.T) {
		name := prefix + "concurrent.g"
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.RecordDownload(ctx, name, 1, base); err != nil {
					t.Errorf("RecordDownload: %v", err)
				}
			}()
		}
		wg.Wait()

		st, err := s.Stats(ctx, name)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Downloads != 20 {
			t.Errorf("Downloads = %d, want 20", st.Downloads)
		}
	})
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.MarkSeen(ctx, "a.g", time.Now()); !errors.Is(err, store.ErrClosed) {
		t.Errorf("MarkSeen after close: got %v, want ErrClosed", err)
	}
	if err := s.RecordDownload(ctx, "a.g", 1, time.Now()); !errors.Is(err, store.ErrClosed) {
		t.Errorf("RecordDownload after close: got %v, want ErrClosed", err)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		wantNil bool
		wantErr bool
	}{
		{name: "none", driver: "", wantNil: true},
		{name: "memory", driver: "memory"},
		{name: "sqlite", driver: "sqlite", dsn: filepath.Join(t.TempDir(), "open.db")},
		{name: "sqlite without path", driver: "sqlite", wantErr: true},
		{name: "mysql without dsn", driver: "mysql", wantErr: true},
		{name: "unknown", driver: "postgres", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := store.Open(tt.driver, tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if s != nil {
					t.Errorf("expected nil store on error, got %T", s)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if tt.wantNil {
				if s != nil {
					t.Errorf("expected nil store, got %T", s)
				}
				return
			}
			if s == nil {
				t.Fatal("expected store, got nil")
			}
			_ = s.Close()
		})
	}
}
