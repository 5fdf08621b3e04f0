package feed

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/gfeed/feed/emit"
)

// Watcher invalidates a Catalog when geometry files in its directory are
// created, written, removed or renamed.
//
// Rapid bursts of events (a file being copied in) are debounced into a
// single invalidation.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	catalog  *Catalog
	emitter  emit.Emitter
	debounce time.Duration

	pending   bool
	lastEvent time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for catalog's directory. debounce <= 0 uses
// 250ms. Call Start to begin watching.
func NewWatcher(catalog *Catalog, debounce time.Duration, emitter emit.Emitter) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Watcher{
		watcher:  fw,
		catalog:  catalog,
		emitter:  emitter,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It returns an error if the directory cannot be
// watched (for example when it does not exist). Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := w.watcher.Add(w.catalog.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.catalog.Dir(), err)
	}

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(tickInterval(w.debounce))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.emitter.Emit(emit.Event{
				Path: w.catalog.Dir(),
				Msg:  emit.MsgCatalogInvalidate,
				Meta: map[string]interface{}{"error": err.Error()},
			})
			// Queue overflow: rescan.
			w.catalog.Invalidate()

		case <-ticker.C:
			w.flush()
		}
	}
}

const minTick = time.Millisecond

// tickInterval is how often pending events are checked, at least minTick.
func tickInterval(debounce time.Duration) time.Duration {
	if d := debounce / 2; d >= minTick {
		return d
	}
	return minTick
}

// handleEvent marks the catalog dirty for relevant events.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isGeometryName(filepath.Base(event.Name)) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return // chmod only
	}

	w.mu.Lock()
	w.pending = true
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

// flush invalidates the catalog once events have been quiet for the
// debounce interval.
func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	w.catalog.Invalidate()
}
