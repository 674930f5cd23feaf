// Package event defines the events exchanged between event sources and the
// dispatcher, and the Manager that owns the lifecycle of event sources.
package event

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/resource"
)

// Kind classifies where an event came from.
type Kind int

const (
	// KindPrimary events describe a change of the primary resource itself.
	KindPrimary Kind = iota
	// KindSecondary events describe a change of a resource related to a primary.
	KindSecondary
	// KindTimer events are scheduled re-runs (retries, reschedules, periodic syncs).
	KindTimer
)

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindSecondary:
		return "secondary"
	case KindTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Event notifies the dispatcher that the primary identified by ID may need
// reconciliation. Events carry no ordering guarantee beyond "something changed";
// reconcilers always re-read current state.
type Event struct {
	// ID is the primary resource the event is routed to.
	ID   resource.ID
	Kind Kind
	// Object is the changed object, when the source has one.
	Object client.Object
	// Deleted is set when the changed object was removed.
	Deleted bool
	// BypassGenerationFilter forces processing even when the primary's
	// generation did not change.
	BypassGenerationFilter bool
	// Source is the name of the emitting event source.
	Source string
}

// Handler receives events. Implementations must not block.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

// HandleEvent calls f(e).
func (f HandlerFunc) HandleEvent(e Event) { f(e) }

// Source produces events for one kind of resource.
//
// Start must return once the source's initial state is synced. Background work
// started by Start must stop when ctx is cancelled or Stop is called.
type Source interface {
	Name() string
	Start(ctx context.Context, handler Handler) error
	Stop() error
}

// HealthReporter is implemented by sources that can degrade without stopping,
// such as pollers whose last fetch failed.
type HealthReporter interface {
	Healthy() bool
}

// PrimaryAware is implemented by sources that track per-primary state and need
// to learn about primary resources being observed or deleted.
type PrimaryAware interface {
	PrimaryObserved(obj client.Object)
	PrimaryDeleted(id resource.ID)
}
