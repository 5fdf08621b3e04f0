package feed

import (
	"fmt"
	"path"
	"strings"
)

// Kind is the representation a request asks for.
type Kind string

const (
	// KindRSS is the RSS 2.0 feed ("*.rss").
	KindRSS Kind = "rss"
	// KindXML is the RSS 2.0 feed served as generic XML ("*.xml").
	KindXML Kind = "xml"
	// KindHTML is the HTML listing ("*.html").
	KindHTML Kind = "html"
	// KindText is the plain-text listing ("*.txt").
	KindText Kind = "txt"
	// KindGeometry is a geometry file download ("*.g").
	KindGeometry Kind = "g"
	// KindDir is a directory request (trailing slash or no suffix).
	KindDir Kind = "dir"
)

// GeometryExt is the file extension of geometry files, including the dot.
const GeometryExt = "." + string(KindGeometry)

// Kinds lists every known kind in table order.
var Kinds = []Kind{KindRSS, KindXML, KindHTML, KindText, KindGeometry, KindDir}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Generated reports whether the kind's body is generated rather than read
// from a file.
func (k Kind) Generated() bool {
	return k != KindGeometry
}

// ParseKind resolves the kind for a request's path info.
//
//	""            -> ErrMissingPathInfo
//	"/", "/a/"    -> KindDir
//	"/moss"       -> KindDir (no suffix)
//	"/moss.g"     -> KindGeometry
//	"/INDEX.RSS"  -> KindRSS (suffixes are case-insensitive)
//	"/moss.stl"   -> ErrUnsupportedKind
func ParseKind(pathInfo string) (Kind, error) {
	if pathInfo == "" {
		return "", ErrMissingPathInfo
	}
	if strings.HasSuffix(pathInfo, "/") {
		return KindDir, nil
	}

	ext := path.Ext(path.Base(pathInfo))
	if ext == "" {
		return KindDir, nil
	}

	k := Kind(strings.ToLower(strings.TrimPrefix(ext, ".")))
	if k == KindDir || !k.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, ext)
	}
	return k, nil
}

// ContentTypes maps each kind to the Content-Type it is served with.
type ContentTypes map[Kind]string

// DefaultContentTypes returns the built-in mapping.
func DefaultContentTypes() ContentTypes {
	return ContentTypes{
		KindRSS:      "application/rss+xml; charset=utf-8",
		KindXML:      "text/xml; charset=utf-8",
		KindHTML:     "text/html; charset=utf-8",
		KindText:     "text/plain; charset=utf-8",
		KindGeometry: "application/octet-stream",
		KindDir:      "application/rss+xml; charset=utf-8",
	}
}

// Lookup returns the content type for k, falling back to the default table
// when c has no entry.
func (c ContentTypes) Lookup(k Kind) string {
	if ct, ok := c[k]; ok && ct != "" {
		return ct
	}
	return DefaultContentTypes()[k]
}

// WithOverrides returns a copy of c with overrides applied. Override keys
// are kind names ("rss", "g", ...); unknown keys and empty values are
// rejected.
func (c ContentTypes) WithOverrides(overrides map[string]string) (ContentTypes, error) {
	out := make(ContentTypes, len(c)+len(overrides))
	for k, v := range c {
		out[k] = v
	}
	for key, ct := range overrides {
		k := Kind(strings.ToLower(key))
		if !k.Valid() {
			return nil, fmt.Errorf("unknown kind %q in content type table", key)
		}
		if strings.TrimSpace(ct) == "" {
			return nil, fmt.Errorf("empty content type for kind %q", key)
		}
		out[k] = ct
	}
	return out, nil
}
