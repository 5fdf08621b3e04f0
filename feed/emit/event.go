// Package emit provides event emission and observability for the feed server.
package emit

// Event represents an observability event emitted while serving a request.
//
// Events describe what the server did:
//   - A request was served (with status, byte count, duration)
//   - A geometry file was downloaded
//   - A feed or listing was generated
//   - A request failed
//   - The catalog was rescanned or invalidated
//
// Events are sent to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Buffer in memory for tests
type Event struct {
	// RequestID identifies the HTTP request that produced this event.
	// Empty for server-level events (catalog scans, watcher activity).
	RequestID string

	// Path is the request path info, or the file path for catalog events.
	Path string

	// Kind is the representation kind resolved for the request
	// ("rss", "xml", "html", "txt", "g", "dir"). Empty when unresolved.
	Kind string

	// Msg is a short machine-friendly event name such as "request_served".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "status": HTTP status code
	//   - "bytes": Response body size
	//   - "duration_ms": Handling duration in milliseconds
	//   - "error": Error details
	//   - "entries": Number of catalog entries
	Meta map[string]interface{}
}

// Event names emitted by the feed server.
const (
	MsgRequestServed     = "request_served"
	MsgRequestError      = "request_error"
	MsgFileDownloaded    = "file_downloaded"
	MsgFeedGenerated     = "feed_generated"
	MsgListingGenerated  = "listing_generated"
	MsgCatalogScanned    = "catalog_scanned"
	MsgCatalogInvalidate = "catalog_invalidated"
	MsgStoreError        = "store_error"
)
