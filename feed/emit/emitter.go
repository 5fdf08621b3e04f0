package emit

// Emitter receives and processes observability events from the feed server.
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down request handling
//   - Thread-safe: Called concurrently from request goroutines
//   - Resilient: Never panic, never fail the request
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}

// MultiEmitter fans every event out to a fixed list of emitters.
//
// Example:
//
//	emitter := emit.NewMultiEmitter(
//	    emit.NewLogEmitter(os.Stderr, true),
//	    emit.NewOTelEmitter(otel.Tracer("gfeed")),
//	)
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates a MultiEmitter. Nil emitters are dropped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards the event to every wrapped emitter in order.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
