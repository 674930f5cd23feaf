package source

import (
	"context"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// Timer emits one-shot events for primaries after a delay. The dispatcher uses
// it for retries, reschedules and rate-limit deferrals. At most one timer is
// pending per primary; scheduling again replaces the pending one.
type Timer struct {
	name string

	mu      sync.Mutex
	timers  map[resource.ID]*time.Timer
	handler event.Handler
	running bool
}

// NewTimer creates a timer event source.
func NewTimer(name string) *Timer {
	return &Timer{
		name:   name,
		timers: make(map[resource.ID]*time.Timer),
	}
}

// Name returns the source name.
func (t *Timer) Name() string { return t.name }

// Start enables scheduling.
func (t *Timer) Start(_ context.Context, handler event.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	t.running = true
	return nil
}

// ScheduleOnce emits an event for id after delay, replacing any pending one.
func (t *Timer) ScheduleOnce(id resource.ID, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		logging.Warn("TimerSource", "Ignoring schedule for %s: timer %s not running", id, t.name)
		return
	}

	if existing, ok := t.timers[id]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		// A replacement may have been scheduled after this timer fired.
		if t.timers[id] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, id)
		handler := t.handler
		running := t.running
		t.mu.Unlock()

		if !running || handler == nil {
			return
		}
		handler.HandleEvent(event.Event{
			ID:                     id,
			Kind:                   event.KindTimer,
			BypassGenerationFilter: true,
			Source:                 t.name,
		})
	})
	t.timers[id] = timer
}

// Cancel drops the pending timer for id, if any.
func (t *Timer) Cancel(id resource.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
}

// Pending reports whether a timer is scheduled for id.
func (t *Timer) Pending(id resource.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[id]
	return ok
}

// PrimaryObserved is a no-op; timers are created on demand.
func (t *Timer) PrimaryObserved(client.Object) {}

// PrimaryDeleted cancels the pending timer of a deleted primary.
func (t *Timer) PrimaryDeleted(id resource.ID) {
	t.Cancel(id)
}

// Stop cancels every pending timer.
func (t *Timer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = make(map[resource.ID]*time.Timer)
	t.running = false
	return nil
}
