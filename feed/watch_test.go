package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/gfeed/feed/emit"
)

func TestWatcher_InvalidatesOnCreate(t *testing.T) {
	dir := standardFixtures(t)
	events := emit.NewBufferedEmitter()
	c := NewCatalog(dir, WithCatalogEmitter(events))
	ctx := context.Background()

	if entries, err := c.List(ctx); err != nil || len(entries) != 2 {
		t.Fatalf("List = %d entries, %v", len(entries), err)
	}

	w, err := NewWatcher(c, 20*time.Millisecond, events)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "ktank.g"), []byte("tank"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := c.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) == 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("catalog was not invalidated after a geometry file was created")
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := standardFixtures(t)
	events := emit.NewBufferedEmitter()
	c := NewCatalog(dir, WithCatalogEmitter(events))

	const debounce = 300 * time.Millisecond
	w, err := NewWatcher(c, debounce, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	for _, name := range []string{"a.g", "b.g", "c.g", "d.g", "e.g"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "a.g"), []byte("rewritten"), 0o644); err != nil {
		t.Fatal(err)
	}

	invalidations := func() int {
		return len(events.Filter(emit.HistoryFilter{Msg: emit.MsgCatalogInvalidate}))
	}
	deadline := time.Now().Add(5 * time.Second)
	for invalidations() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(3 * debounce)

	if got := invalidations(); got != 1 {
		t.Errorf("expected the burst to collapse into 1 invalidation, got %d", got)
	}
}

func TestWatcher_TinyDebounce(t *testing.T) {
	dir := standardFixtures(t)
	events := emit.NewBufferedEmitter()
	c := NewCatalog(dir, WithCatalogEmitter(events))

	w, err := NewWatcher(c, time.Nanosecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "ktank.g"), []byte("tank"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(events.Filter(emit.HistoryFilter{Msg: emit.MsgCatalogInvalidate})) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("catalog was not invalidated")
}

func TestTickInterval(t *testing.T) {
	tests := []struct {
		debounce, want time.Duration
	}{
		{time.Nanosecond, time.Millisecond},
		{time.Millisecond, time.Millisecond},
		{250 * time.Millisecond, 125 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := tickInterval(tt.debounce); got != tt.want {
			t.Errorf("tickInterval(%v) = %v, want %v", tt.debounce, got, tt.want)
		}
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := standardFixtures(t)
	events := emit.NewBufferedEmitter()
	c := NewCatalog(dir, WithCatalogEmitter(events))

	w, err := NewWatcher(c, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := events.Filter(emit.HistoryFilter{Msg: emit.MsgCatalogInvalidate}); len(got) != 0 {
		t.Errorf("expected no invalidation for non-geometry files, got %d", len(got))
	}
}

func TestWatcher_StartMissingDir(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "missing"))
	w, err := NewWatcher(c, 0, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Error("expected error watching a missing directory")
	}
}

func TestWatcher_StopAfterContextCancel(t *testing.T) {
	c := NewCatalog(standardFixtures(t))
	w, err := NewWatcher(c, 0, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		_ = w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
