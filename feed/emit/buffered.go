package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are kept in emission order and indexed by request ID. Server-level
// events (empty RequestID) are stored under the empty key.
//
// Warning: This emitter stores all events in memory. It is meant for tests
// and debugging, not for long-running servers.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	srv, _ := feed.NewServer(catalog, feed.WithEmitter(emitter))
//
//	// ... serve requests ...
//
//	downloads := emitter.Filter(emit.HistoryFilter{Msg: emit.MsgFileDownloaded})
type BufferedEmitter struct {
	mu     sync.RWMutex
	all    []Event
	events map[string][]Event // requestID -> events
}

// HistoryFilter specifies criteria for filtering buffered events.
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic.
type HistoryFilter struct {
	RequestID string // Filter by request ID (empty = no filter)
	Kind      string // Filter by representation kind (empty = no filter)
	Msg       string // Filter by message (empty = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, event)
	b.events[event.RequestID] = append(b.events[event.RequestID], event)
}

// GetHistory retrieves all events for a specific request ID.
//
// Returns a copy of the events in emission order, or an empty slice.
func (b *BufferedEmitter) GetHistory(requestID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[requestID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// Events returns a copy of every buffered event in emission order.
func (b *BufferedEmitter) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, len(b.all))
	copy(result, b.all)
	return result
}

// Filter returns buffered events matching the filter, in emission order.
func (b *BufferedEmitter) Filter(filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.all {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// matchesFilter checks if an event matches the filter criteria.
func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.RequestID != "" && event.RequestID != filter.RequestID {
		return false
	}
	if filter.Kind != "" && event.Kind != filter.Kind {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	return true
}

// Clear removes stored events.
//
// If requestID is non-empty, clears only events for that request.
// If requestID is empty, clears everything.
func (b *BufferedEmitter) Clear(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if requestID == "" {
		b.all = nil
		b.events = make(map[string][]Event)
		return
	}

	delete(b.events, requestID)
	kept := b.all[:0]
	for _, event := range b.all {
		if event.RequestID != requestID {
			kept = append(kept, event)
		}
	}
	b.all = kept
}
