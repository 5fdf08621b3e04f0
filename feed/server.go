package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/gfeed/feed/emit"
	"github.com/dshills/gfeed/feed/store"
)

// RequestIDHeader carries the request ID. An incoming value is reused when
// it is a short token of letters, digits, '.', '_' or '-'; otherwise a UUID
// is generated.
const RequestIDHeader = "X-Request-Id"

// Server serves a Catalog over HTTP. It implements http.Handler.
type Server struct {
	catalog *Catalog
	cfg     serverConfig
}

// NewServer creates a Server for catalog.
//
// Returns *Error if catalog is nil or an option is invalid.
func NewServer(catalog *Catalog, opts ...Option) (*Server, error) {
	if catalog == nil {
		return nil, &Error{Message: "catalog cannot be nil", Code: "INVALID_CATALOG"}
	}
	cfg := defaultServerConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Server{catalog: catalog, cfg: cfg}, nil
}

// Catalog returns the served catalog.
func (s *Server) Catalog() *Catalog {
	return s.catalog
}

// request carries per-request state through the handlers.
type request struct {
	id       string
	pathInfo string
	kind     Kind
	start    time.Time
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &request{
		id:    r.Header.Get(RequestIDHeader),
		start: s.cfg.now(),
	}
	if !validRequestID(req.id) {
		req.id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, req.id)

	rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
	defer s.finish(rec, req)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		rec.Header().Set("Allow", "GET, HEAD")
		http.Error(rec, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pathInfo, ok := s.pathInfo(r.URL.Path)
	if !ok {
		s.fail(rec, req, fmt.Errorf("%w: %s", ErrFileNotFound, r.URL.Path))
		return
	}
	req.pathInfo = pathInfo

	kind, err := ParseKind(pathInfo)
	if err != nil {
		s.fail(rec, req, err)
		return
	}
	req.kind = kind

	switch kind {
	case KindGeometry:
		err = s.serveFile(rec, r, req)
	case KindRSS, KindXML, KindDir:
		err = s.serveFeed(rec, r, req)
	case KindHTML, KindText:
		err = s.serveListing(rec, r, req)
	}
	if err != nil {
		s.fail(rec, req, err)
	}
}

const maxRequestIDLen = 64

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// pathInfo strips the mount prefix. ok is false when the path is outside
// the prefix.
func (s *Server) pathInfo(p string) (string, bool) {
	if s.cfg.prefix == "" {
		return p, true
	}
	if p == s.cfg.prefix {
		return "", true
	}
	if !strings.HasPrefix(p, s.cfg.prefix+"/") {
		return "", false
	}
	return strings.TrimPrefix(p, s.cfg.prefix), true
}

// baseURL returns the absolute URL files are linked under, ending in "/".
func (s *Server) baseURL(r *http.Request) (string, error) {
	if s.cfg.baseURL != "" {
		return s.cfg.baseURL, nil
	}
	if r.Host == "" {
		return "", ErrMissingHost
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		switch p := strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0])); p {
		case "http", "https":
			scheme = p
		}
	}
	return scheme + "://" + r.Host + s.cfg.prefix + "/", nil
}

// serveFile streams one geometry file as an attachment.
func (s *Server) serveFile(w *responseRecorder, r *http.Request, req *request) error {
	name := strings.TrimPrefix(req.pathInfo, "/")

	f, entry, err := s.catalog.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", s.cfg.contentTypes.Lookup(KindGeometry))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": entry.Name}))
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(s.cfg.fileMaxAge/time.Second)))

	http.ServeContent(w, r, entry.Name, entry.ModTime, f)

	if r.Method == http.MethodGet && w.status == http.StatusOK {
		s.recordDownload(r.Context(), req, entry, w.bytes)
	}
	return nil
}

func (s *Server) recordDownload(ctx context.Context, req *request, entry Entry, n int64) {
	s.cfg.metrics.IncDownloads()

	meta := map[string]interface{}{"bytes": n, "size": entry.Size}
	if s.cfg.store != nil {
		if err := s.cfg.store.RecordDownload(ctx, entry.Name, n, s.cfg.now()); err != nil {
			s.cfg.emitter.Emit(emit.Event{
				RequestID: req.id,
				Path:      req.pathInfo,
				Kind:      string(req.kind),
				Msg:       emit.MsgStoreError,
				Meta:      map[string]interface{}{"error": err.Error()},
			})
		}
	}
	s.cfg.emitter.Emit(emit.Event{
		RequestID: req.id,
		Path:      req.pathInfo,
		Kind:      string(req.kind),
		Msg:       emit.MsgFileDownloaded,
		Meta:      meta,
	})
}

// serveFeed renders the RSS document for rss, xml and dir requests.
func (s *Server) serveFeed(w *responseRecorder, r *http.Request, req *request) error {
	entries, base, stats, err := s.collect(r)
	if err != nil {
		return err
	}

	f := BuildFeed(FeedInput{
		Channel:     s.cfg.channel,
		Entries:     entries,
		BaseURL:     base,
		ContentType: s.cfg.contentTypes.Lookup(KindGeometry),
		Stats:       stats,
		MaxItems:    s.cfg.maxItems,
		Now:         s.cfg.now(),
	})

	var buf bytes.Buffer
	if err := WriteRSS(&buf, s.cfg.channel, f); err != nil {
		return err
	}

	s.emit(req, emit.MsgFeedGenerated, map[string]interface{}{"items": len(f.Items)})
	s.writeGenerated(w, r, req.kind, entries, buf.Bytes())
	return nil
}

// serveListing renders the HTML or text listing.
func (s *Server) serveListing(w *responseRecorder, r *http.Request, req *request) error {
	entries, base, stats, err := s.collect(r)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if req.kind == KindHTML {
		err = WriteHTMLListing(&buf, s.cfg.channel, entries, base, stats)
	} else {
		err = WriteTextListing(&buf, s.cfg.channel, entries, base, stats)
	}
	if err != nil {
		return err
	}

	s.emit(req, emit.MsgListingGenerated, map[string]interface{}{"entries": len(entries)})
	s.writeGenerated(w, r, req.kind, entries, buf.Bytes())
	return nil
}

// collect gathers what every generated document needs: entries, base URL
// and ledger stats. Ledger failures degrade to no stats.
func (s *Server) collect(r *http.Request) ([]Entry, string, map[string]store.Stats, error) {
	base, err := s.baseURL(r)
	if err != nil {
		return nil, "", nil, err
	}
	entries, err := s.catalog.List(r.Context())
	if err != nil {
		return nil, "", nil, err
	}
	return entries, base, s.ledgerStats(r.Context(), entries), nil
}

// ledgerStats marks new entries as seen and returns the ledger view.
func (s *Server) ledgerStats(ctx context.Context, entries []Entry) map[string]store.Stats {
	if s.cfg.store == nil {
		return nil
	}

	stats, err := s.cfg.store.AllStats(ctx)
	if err != nil {
		s.cfg.emitter.Emit(emit.Event{Msg: emit.MsgStoreError, Meta: map[string]interface{}{"error": err.Error()}})
		return nil
	}

	now := s.cfg.now()
	for _, e := range entries {
		if _, ok := stats[e.Name]; ok {
			continue
		}
		firstSeen, err := s.cfg.store.MarkSeen(ctx, e.Name, now)
		if err != nil {
			s.cfg.emitter.Emit(emit.Event{Path: e.Name, Msg: emit.MsgStoreError, Meta: map[string]interface{}{"error": err.Error()}})
			continue
		}
		stats[e.Name] = store.Stats{Name: e.Name, FirstSeen: firstSeen}
	}
	return stats
}

// writeGenerated writes a generated document with no-cache headers.
func (s *Server) writeGenerated(w http.ResponseWriter, r *http.Request, kind Kind, entries []Entry, body []byte) {
	h := w.Header()
	h.Set("Content-Type", s.cfg.contentTypes.Lookup(kind))
	h.Set("Cache-Control", "no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	if len(entries) > 0 {
		h.Set("Last-Modified", newestModTime(entries, time.Time{}).UTC().Format(http.TimeFormat))
	}

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

// fail writes err as a one-line plain-text response.
func (s *Server) fail(w *responseRecorder, req *request, err error) {
	status := StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError && !errors.Is(err, ErrDataDirMissing) {
		msg = http.StatusText(status)
	}

	h := w.Header()
	h.Del("Content-Disposition")
	h.Set("Cache-Control", "no-cache, must-revalidate")
	http.Error(w, msg, status)

	s.emit(req, emit.MsgRequestError, map[string]interface{}{
		"status": status,
		"code":   ErrorCode(err),
		"error":  err.Error(),
	})
}

// finish records metrics and the request_served event.
func (s *Server) finish(w *responseRecorder, req *request) {
	elapsed := s.cfg.now().Sub(req.start)
	s.cfg.metrics.RecordRequest(req.kind, w.status, elapsed, w.bytes)
	s.emit(req, emit.MsgRequestServed, map[string]interface{}{
		"status":      w.status,
		"bytes":       w.bytes,
		"duration_ms": elapsed.Milliseconds(),
	})
}

func (s *Server) emit(req *request, msg string, meta map[string]interface{}) {
	s.cfg.emitter.Emit(emit.Event{
		RequestID: req.id,
		Path:      req.pathInfo,
		Kind:      string(req.kind),
		Msg:       msg,
		Meta:      meta,
	})
}

// responseRecorder captures the status code and body size.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (rw *responseRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
