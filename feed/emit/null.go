package emit

// NullEmitter implements Emitter by discarding all events.
//
// It is the default emitter of a feed.Server when none is configured.
//
//	srv, err := feed.NewServer(catalog, feed.WithEmitter(emit.NewNullEmitter()))
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
