// Package source contains the event source implementations: informer and raw
// watch sources for Kubernetes objects, polling sources for external systems,
// a YAML file source and the timer used for scheduled re-runs.
package source

import (
	"maps"
	"slices"
	"sync"

	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/giantswarm/reconcilekit/internal/cache"
	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
)

// KeyFunc derives the key that distinguishes one external resource from the
// other resources of the same primary.
type KeyFunc[R any] func(R) string

// EqualFunc decides whether two observations of a resource are the same.
type EqualFunc[R any] func(a, b R) bool

// Presence tells whether a source knows about the secondaries of a primary.
type Presence int

const (
	// PresenceUnknown means the source has not fetched for the primary yet.
	PresenceUnknown Presence = iota
	// PresenceAbsent means the last fetch found no resources.
	PresenceAbsent
	// PresencePresent means resources are cached.
	PresencePresent
)

// Caching holds the external resources of each primary, keyed by KeyFunc, and
// forwards an event only when what is cached actually changes. It is embedded by
// the polling sources.
type Caching[R any] struct {
	name  string
	keyFn KeyFunc[R]
	equal EqualFunc[R]
	store *cache.Cache[map[string]R]

	mu      sync.Mutex
	handler event.Handler
	fetched sets.Set[resource.ID]
}

func newCaching[R any](name string, keyFn KeyFunc[R], equal EqualFunc[R]) *Caching[R] {
	if equal == nil {
		equal = DefaultEqual[R]
	}
	return &Caching[R]{
		name:    name,
		keyFn:   keyFn,
		equal:   equal,
		store:   cache.New[map[string]R](),
		fetched: sets.New[resource.ID](),
	}
}

// DefaultEqual compares resource versions when both values expose a non-empty
// one, and falls back to semantic deep equality otherwise.
func DefaultEqual[R any](a, b R) bool {
	type versioned interface{ GetResourceVersion() string }
	if av, ok := any(a).(versioned); ok {
		if bv, ok := any(b).(versioned); ok && av.GetResourceVersion() != "" {
			return av.GetResourceVersion() == bv.GetResourceVersion()
		}
	}
	return equality.Semantic.DeepEqual(a, b)
}

// Name returns the source name.
func (c *Caching[R]) Name() string { return c.name }

func (c *Caching[R]) bind(handler event.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *Caching[R]) emit(id resource.ID, deleted bool) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}
	handler.HandleEvent(event.Event{
		ID:      id,
		Kind:    event.KindSecondary,
		Deleted: deleted,
		Source:  c.name,
	})
}

// HandleResources replaces the cached resources of primary with resources,
// as observed at token. An event is forwarded only if the content changed; an
// empty result for a primary that had resources is handled by HandleDelete.
// It reports whether an event was forwarded.
func (c *Caching[R]) HandleResources(primary resource.ID, resources []R, token cache.Token) bool {
	next := make(map[string]R, len(resources))
	for _, r := range resources {
		next[c.keyFn(r)] = r
	}

	c.mu.Lock()
	current, _ := c.store.Get(primary)
	if c.sameContent(current, next) {
		c.fetched.Insert(primary)
		c.mu.Unlock()
		return false
	}
	if len(next) == 0 {
		// Everything the primary had is gone.
		c.mu.Unlock()
		c.HandleDelete(primary)
		return true
	}
	if !c.store.PutObserved(primary, next, token) {
		// Deleted after this observation started.
		c.mu.Unlock()
		return false
	}
	c.fetched.Insert(primary)
	c.mu.Unlock()

	c.emit(primary, false)
	return true
}

// HandleSnapshot applies a snapshot covering every primary. Primaries cached
// before but missing from the snapshot are deleted.
func (c *Caching[R]) HandleSnapshot(snapshot map[resource.ID][]R, token cache.Token) {
	for id, resources := range snapshot {
		c.HandleResources(id, resources, token)
	}
	for _, id := range c.store.Keys() {
		if _, ok := snapshot[id]; !ok {
			c.HandleDelete(id)
		}
	}
}

// HandleDelete removes everything cached for primary and always forwards a
// deletion event.
func (c *Caching[R]) HandleDelete(primary resource.ID) {
	c.mu.Lock()
	c.fetched.Insert(primary)
	c.store.Delete(primary)
	c.mu.Unlock()

	c.emit(primary, true)
}

// HandleRecentResourceCreate records a resource the engine itself just created,
// so the next reconciliation reads its own write. No event is forwarded.
func (c *Caching[R]) HandleRecentResourceCreate(primary resource.ID, r R) {
	c.HandleRecentResourceUpdate(primary, r)
}

// HandleRecentResourceUpdate records a resource the engine itself just updated.
// No event is forwarded.
func (c *Caching[R]) HandleRecentResourceUpdate(primary resource.ID, r R) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, _ := c.store.Get(primary)
	next := maps.Clone(current)
	if next == nil {
		next = make(map[string]R, 1)
	}
	next[c.keyFn(r)] = r
	c.store.Put(primary, next)
	c.fetched.Insert(primary)
}

// Get returns a copy of the resources cached for primary.
func (c *Caching[R]) Get(primary resource.ID) (map[string]R, Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.store.Get(primary)
	switch {
	case ok:
		return maps.Clone(current), PresencePresent
	case c.fetched.Has(primary):
		return map[string]R{}, PresenceAbsent
	default:
		return map[string]R{}, PresenceUnknown
	}
}

// List returns the resources cached for primary ordered by key.
func (c *Caching[R]) List(primary resource.ID) []R {
	current, _ := c.Get(primary)
	out := make([]R, 0, len(current))
	for _, key := range slices.Sorted(maps.Keys(current)) {
		out = append(out, current[key])
	}
	return out
}

// Primaries returns the primaries with cached resources.
func (c *Caching[R]) Primaries() []resource.ID {
	return c.store.Keys()
}

// forget drops a primary without forwarding an event. The tombstone left behind
// keeps in-flight fetches for the primary from writing.
func (c *Caching[R]) forget(primary resource.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Delete(primary)
	c.fetched.Delete(primary)
}

func (c *Caching[R]) sameContent(current, next map[string]R) bool {
	if len(current) != len(next) {
		return false
	}
	for key, n := range next {
		cur, ok := current[key]
		if !ok || !c.equal(cur, n) {
			return false
		}
	}
	return true
}
