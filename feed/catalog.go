package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/gfeed/feed/emit"
)

// Entry describes one geometry file in the data directory.
type Entry struct {
	// Name is the base name of the file ("moss.g").
	Name string

	// Path is the absolute path on disk.
	Path string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the file modification time.
	ModTime time.Time

	// Checksum is the SHA-256 of the content in hex. Empty unless the
	// catalog was created WithChecksums(true).
	Checksum string
}

// Catalog lists the geometry files of one directory.
//
// Scans are cached. The cache is dropped by Invalidate (see Watcher) or when
// it is older than the TTL. Concurrent List calls that miss the cache share
// one directory scan.
//
// Only regular files directly inside the directory, with the ".g" extension
// (any case) and no leading dot, are listed. Symbolic links are followed.
type Catalog struct {
	dir       string
	ttl       time.Duration
	checksums bool
	emitter   emit.Emitter
	metrics   *PrometheusMetrics

	group singleflight.Group

	mu        sync.RWMutex
	gen       uint64
	valid     bool
	entries   []Entry
	scannedAt time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithTTL bounds how long a scan result is reused. Zero keeps it until
// Invalidate is called.
func WithTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) {
		c.ttl = ttl
	}
}

// WithChecksums enables SHA-256 checksums on entries. Checksums are only
// recomputed for files whose size or modification time changed.
func WithChecksums(enabled bool) CatalogOption {
	return func(c *Catalog) {
		c.checksums = enabled
	}
}

// WithCatalogEmitter reports scans and invalidations to emitter.
func WithCatalogEmitter(emitter emit.Emitter) CatalogOption {
	return func(c *Catalog) {
		c.emitter = emitter
	}
}

// WithCatalogMetrics records scans in metrics.
func WithCatalogMetrics(metrics *PrometheusMetrics) CatalogOption {
	return func(c *Catalog) {
		c.metrics = metrics
	}
}

// NewCatalog creates a catalog over dir. The directory is not checked until
// the first List or Open, so a server can start before its data is mounted.
func NewCatalog(dir string, opts ...CatalogOption) *Catalog {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	c := &Catalog{
		dir:     dir,
		emitter: emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.emitter == nil {
		c.emitter = emit.NewNullEmitter()
	}
	return c
}

// Dir returns the absolute data directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// List returns the geometry files, newest first (ties by name).
//
// Returns ErrDataDirMissing if the directory does not exist or is not a
// directory. The returned slice is a copy.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	c.mu.RLock()
	if c.valid && (c.ttl <= 0 || time.Since(c.scannedAt) < c.ttl) {
		out := make([]Entry, len(c.entries))
		copy(out, c.entries)
		c.mu.RUnlock()
		return out, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	ch := c.group.DoChan(fmt.Sprintf("scan-%d", gen), func() (interface{}, error) {
		return c.refresh(gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		entries := res.Val.([]Entry)
		out := make([]Entry, len(entries))
		copy(out, entries)
		return out, nil
	}
}

// Invalidate drops the cached scan. The next List rescans the directory.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.valid = false
	c.mu.Unlock()

	c.emitter.Emit(emit.Event{
		Path: c.dir,
		Msg:  emit.MsgCatalogInvalidate,
	})
}

// Open opens the named geometry file for reading.
//
// name must be a plain base name with the ".g" extension. Returns
// ErrInvalidName for anything else, ErrDataDirMissing if the directory is
// gone, and ErrFileNotFound if the file does not exist or is not a regular
// file. The caller must close the file.
func (c *Catalog) Open(name string) (*os.File, Entry, error) {
	if err := validateName(name); err != nil {
		return nil, Entry{}, err
	}
	if err := c.checkDir(); err != nil {
		return nil, Entry{}, err
	}

	p := filepath.Join(c.dir, name)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Entry{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, Entry{}, fmt.Errorf("failed to open %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Entry{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, Entry{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	return f, Entry{
		Name:    name,
		Path:    p,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// refresh scans the directory and caches the result unless the catalog was
// invalidated while scanning.
func (c *Catalog) refresh(gen uint64) ([]Entry, error) {
	start := time.Now()

	c.mu.RLock()
	previous := c.entries
	c.mu.RUnlock()

	entries, err := c.scan(previous)
	c.metrics.RecordScan(len(entries), err)

	meta := map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		meta["error"] = err.Error()
	} else {
		meta["entries"] = len(entries)
	}
	c.emitter.Emit(emit.Event{Path: c.dir, Msg: emit.MsgCatalogScanned, Meta: meta})

	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.entries = entries
		c.scannedAt = time.Now()
		c.valid = true
	}
	c.mu.Unlock()

	return entries, nil
}

// scan reads the directory. previous is the last scan, used to reuse
// checksums of unchanged files.
func (c *Catalog) scan(previous []Entry) ([]Entry, error) {
	if err := c.checkDir(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	known := make(map[string]Entry, len(previous))
	for _, e := range previous {
		known[e.Name] = e
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !isGeometryName(name) || de.IsDir() {
			continue
		}

		p := filepath.Join(c.dir, name)
		var info fs.FileInfo
		if de.Type()&fs.ModeSymlink != 0 {
			info, err = os.Stat(p)
		} else {
			info, err = de.Info()
		}
		if err != nil {
			// Removed between ReadDir and Stat, or a dangling link
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		entry := Entry{
			Name:    name,
			Path:    p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		if c.checksums {
			if prev, ok := known[name]; ok && prev.Checksum != "" &&
				prev.Size == entry.Size && prev.ModTime.Equal(entry.ModTime) {
				entry.Checksum = prev.Checksum
			} else if sum, err := fileChecksum(p); err == nil {
				entry.Checksum = sum
			}
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

func (c *Catalog) checkDir() error {
	info, err := os.Stat(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrDataDirMissing
		}
		return fmt.Errorf("failed to access data directory: %w", err)
	}
	if !info.IsDir() {
		return ErrDataDirMissing
	}
	return nil
}

// isGeometryName reports whether a directory entry name is listed.
func isGeometryName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), GeometryExt)
}

// validateName rejects names that are not plain geometry file names.
func validateName(name string) error {
	switch {
	case name == "",
		strings.ContainsAny(name, "/\\\x00"),
		name == "." || name == "..",
		strings.Contains(name, ".."),
		!isGeometryName(name):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// fileChecksum streams the file through SHA-256.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
