package source

import (
	"sync"

	"github.com/giantswarm/reconcilekit/internal/event"
)

// eventRecorder is an event.Handler that remembers everything it receives.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) HandleEvent(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// item is a minimal external resource used by the polling tests.
type item struct {
	Key   string
	Value string
}

func itemKey(i item) string { return i.Key }
