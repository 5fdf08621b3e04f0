package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/gfeed/feed/emit"
)

func TestCatalog_List(t *testing.T) {
	dir := standardFixtures(t)
	c := NewCatalog(dir)

	entries, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}

	// Newest first
	if entries[0].Name != "havoc.g" || entries[1].Name != "moss.g" {
		t.Errorf("unexpected order: %s, %s", entries[0].Name, entries[1].Name)
	}
	if entries[1].Size != int64(len("moss geometry")) {
		t.Errorf("moss.g size = %d", entries[1].Size)
	}
	if entries[0].Path != filepath.Join(c.Dir(), "havoc.g") {
		t.Errorf("Path = %q", entries[0].Path)
	}
	if entries[0].Checksum != "" {
		t.Error("checksum should be empty unless enabled")
	}
}

func TestCatalog_TiesSortedByName(t *testing.T) {
	dir := writeFixtures(t,
		fixture{name: "b.g", content: "b"},
		fixture{name: "a.g", content: "a"},
		fixture{name: "C.G", content: "c"},
	)

	entries, err := NewCatalog(dir).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"C.G", "a.g", "b.g"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names = %v, want %v", names, want)
			break
		}
	}
}

func TestCatalog_MissingDir(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "does-not-exist"))

	if _, err := c.List(context.Background()); !errors.Is(err, ErrDataDirMissing) {
		t.Errorf("List error = %v, want ErrDataDirMissing", err)
	}
	if _, _, err := c.Open("moss.g"); !errors.Is(err, ErrDataDirMissing) {
		t.Errorf("Open error = %v, want ErrDataDirMissing", err)
	}
}

func TestCatalog_DirIsAFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCatalog(p).List(context.Background()); !errors.Is(err, ErrDataDirMissing) {
		t.Errorf("List error = %v, want ErrDataDirMissing", err)
	}
}

func TestCatalog_CacheAndInvalidate(t *testing.T) {
	dir := standardFixtures(t)
	events := emit.NewBufferedEmitter()
	c := NewCatalog(dir, WithCatalogEmitter(events))
	ctx := context.Background()

	if _, err := c.List(ctx); err != nil {
		t.Fatalf("List: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "ktank.g"), []byte("tank"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, _ := c.List(ctx)
	if len(entries) != 2 {
		t.Errorf("expected cached result of 2 entries, got %d", len(entries))
	}

	c.Invalidate()
	entries, _ = c.List(ctx)
	if len(entries) != 3 {
		t.Errorf("expected 3 entries after Invalidate, got %d", len(entries))
	}

	scans := events.Filter(emit.HistoryFilter{Msg: emit.MsgCatalogScanned})
	if len(scans) != 2 {
		t.Errorf("expected 2 scans, got %d", len(scans))
	}
	if got := len(events.Filter(emit.HistoryFilter{Msg: emit.MsgCatalogInvalidate})); got != 1 {
		t.Errorf("expected 1 invalidation event, got %d", got)
	}
}

func TestCatalog_TTL(t *testing.T) {
	dir := standardFixtures(t)
	c := NewCatalog(dir, WithTTL(time.Nanosecond))
	ctx := context.Background()

	if _, err := c.List(ctx); err != nil {
		t.Fatalf("List: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ktank.g"), []byte("tank"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)

	entries, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected expired cache to rescan, got %d entries", len(entries))
	}
}

func TestCatalog_ListReturnsCopy(t *testing.T) {
	c := NewCatalog(standardFixtures(t))
	ctx := context.Background()

	first, _ := c.List(ctx)
	first[0].Name = "mutated"

	second, _ := c.List(ctx)
	if second[0].Name == "mutated" {
		t.Error("mutating a List result changed the cache")
	}
}

func TestCatalog_ConcurrentList(t *testing.T) {
	c := NewCatalog(standardFixtures(t))

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := c.List(context.Background())
			if err != nil {
				t.Errorf("List: %v", err)
				return
			}
			if len(entries) != 2 {
				t.Errorf("expected 2 entries, got %d", len(entries))
			}
		}()
	}
	wg.Wait()
}

func TestCatalog_CanceledContext(t *testing.T) {
	c := NewCatalog(standardFixtures(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A canceled caller either gets ctx.Err() or, if the scan won the race,
	// the entries; it never blocks.
	if _, err := c.List(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCatalog_Checksums(t *testing.T) {
	dir := standardFixtures(t)
	c := NewCatalog(dir, WithChecksums(true))

	entries, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	sum := sha256.Sum256([]byte("moss geometry"))
	want := hex.EncodeToString(sum[:])
	for _, e := range entries {
		if e.Name == "moss.g" && e.Checksum != want {
			t.Errorf("moss.g checksum = %q, want %q", e.Checksum, want)
		}
	}

	// Changing content and mtime yields a new checksum after invalidation
	p := filepath.Join(dir, "moss.g")
	if err := os.WriteFile(p, []byte("new moss"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.Invalidate()
	entries, _ = c.List(context.Background())
	sum = sha256.Sum256([]byte("new moss"))
	for _, e := range entries {
		if e.Name == "moss.g" && e.Checksum != hex.EncodeToString(sum[:]) {
			t.Errorf("checksum not recomputed for changed file: %q", e.Checksum)
		}
	}
}

func TestCatalog_Open(t *testing.T) {
	dir := standardFixtures(t)
	c := NewCatalog(dir)

	t.Run("existing file", func(t *testing.T) {
		f, entry, err := c.Open("moss.g")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer f.Close()
		if entry.Name != "moss.g" || entry.Size != int64(len("moss geometry")) {
			t.Errorf("unexpected entry: %+v", entry)
		}
		if !entry.ModTime.Equal(baseTime.Add(22 * time.Hour)) {
			t.Errorf("ModTime = %v", entry.ModTime)
		}
	})

	tests := []struct {
		name    string
		wantErr error
	}{
		{"missing.g", ErrFileNotFound},
		{"sub.g", ErrFileNotFound},
		{"", ErrInvalidName},
		{"../moss.g", ErrInvalidName},
		{"a/moss.g", ErrInvalidName},
		{`a\moss.g`, ErrInvalidName},
		{"notes.txt", ErrInvalidName},
		{".hidden.g", ErrInvalidName},
		{"moss.g\x00", ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, err := c.Open(tt.name)
			if f != nil {
				f.Close()
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open(%q) error = %v, want %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestCatalog_FollowsSymlinks(t *testing.T) {
	dir := standardFixtures(t)
	target := filepath.Join(t.TempDir(), "elsewhere.g")
	if err := os.WriteFile(target, []byte("linked"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(dir, "link.g")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(dir, "gone.g"), filepath.Join(dir, "dangling.g")); err != nil {
		t.Fatal(err)
	}

	entries, err := NewCatalog(dir).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["link.g"] {
		t.Error("symlinked file should be listed")
	}
	if names["dangling.g"] {
		t.Error("dangling symlink should be skipped")
	}
}
