package feed

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dshills/gfeed/feed/emit"
	"github.com/dshills/gfeed/feed/store"
)

// Option is a functional option for configuring a Server.
//
// Example:
//
//	srv, err := feed.NewServer(catalog,
//	    feed.WithPrefix("/geometry"),
//	    feed.WithMaxItems(50),
//	    feed.WithStore(ledger),
//	)
type Option func(*serverConfig) error

// serverConfig collects options before they are applied to a Server.
type serverConfig struct {
	prefix       string
	baseURL      string
	channel      Channel
	contentTypes ContentTypes
	maxItems     int
	fileMaxAge   time.Duration
	store        store.Store
	emitter      emit.Emitter
	metrics      *PrometheusMetrics
	now          func() time.Time
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		channel:      DefaultChannel(),
		contentTypes: DefaultContentTypes(),
		fileMaxAge:   time.Hour,
		emitter:      emit.NewNullEmitter(),
		now:          time.Now,
	}
}

// WithPrefix mounts the server under prefix ("/geometry"). Path info is the
// request path with the prefix removed. Default: "" (mounted at root).
func WithPrefix(prefix string) Option {
	return func(cfg *serverConfig) error {
		prefix = strings.TrimRight(prefix, "/")
		if prefix != "" && !strings.HasPrefix(prefix, "/") {
			return &Error{Message: "prefix must start with /: " + prefix, Code: "INVALID_PREFIX"}
		}
		cfg.prefix = prefix
		return nil
	}
}

// WithBaseURL fixes the absolute URL that links in feeds and listings are
// built from. When unset, it is derived from each request.
func WithBaseURL(base string) Option {
	return func(cfg *serverConfig) error {
		if base == "" {
			cfg.baseURL = ""
			return nil
		}
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &Error{Message: "base URL must be absolute: " + base, Code: "INVALID_BASE_URL", Err: err}
		}
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		cfg.baseURL = base
		return nil
	}
}

// WithChannel sets the RSS channel metadata and listing title.
func WithChannel(ch Channel) Option {
	return func(cfg *serverConfig) error {
		if ch.Title == "" {
			return &Error{Message: "channel title cannot be empty", Code: "INVALID_CHANNEL"}
		}
		if ch.TTL < 0 {
			return &Error{Message: fmt.Sprintf("channel ttl cannot be negative: %d", ch.TTL), Code: "INVALID_CHANNEL"}
		}
		cfg.channel = ch
		return nil
	}
}

// WithContentTypes replaces the kind to Content-Type table. Kinds missing
// from types fall back to DefaultContentTypes.
func WithContentTypes(types ContentTypes) Option {
	return func(cfg *serverConfig) error {
		for k := range types {
			if !k.Valid() {
				return &Error{Message: "unknown kind in content type table: " + string(k), Code: "INVALID_CONTENT_TYPES"}
			}
		}
		cfg.contentTypes = types
		return nil
	}
}

// WithMaxItems caps the number of feed items. 0 means no cap.
func WithMaxItems(n int) Option {
	return func(cfg *serverConfig) error {
		if n < 0 {
			return &Error{Message: fmt.Sprintf("max items cannot be negative: %d", n), Code: "INVALID_MAX_ITEMS"}
		}
		cfg.maxItems = n
		return nil
	}
}

// WithFileMaxAge sets Cache-Control max-age for geometry downloads.
// Default: 1h.
func WithFileMaxAge(d time.Duration) Option {
	return func(cfg *serverConfig) error {
		if d < 0 {
			return &Error{Message: "file max age cannot be negative", Code: "INVALID_MAX_AGE"}
		}
		cfg.fileMaxAge = d
		return nil
	}
}

// WithStore enables the download ledger.
func WithStore(s store.Store) Option {
	return func(cfg *serverConfig) error {
		cfg.store = s
		return nil
	}
}

// WithEmitter sets the event emitter. Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *serverConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus request metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *serverConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(cfg *serverConfig) error {
		if now == nil {
			now = time.Now
		}
		cfg.now = now
		return nil
	}
}
