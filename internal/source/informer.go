package source

import (
	"context"
	"fmt"
	"sync"

	toolscache "k8s.io/client-go/tools/cache"
	crcache "sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/cache"
	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// PrimaryIndex is the name of the index mapping secondary objects to the
// primaries they affect.
const PrimaryIndex = "primary"

// InformerProvider hands out shared informers. controller-runtime's cache.Cache
// satisfies it.
type InformerProvider interface {
	GetInformer(ctx context.Context, obj client.Object, opts ...crcache.InformerGetOption) (crcache.Informer, error)
}

// Informer is an event source backed by a controller-runtime informer.
//
// A primary informer emits KindPrimary events for the objects themselves. A
// secondary informer resolves each object to primaries with a Mapper and emits
// one KindSecondary event per primary. Either way the observed objects are kept
// in a cache; secondary objects are indexed by primary.
type Informer struct {
	mu sync.RWMutex

	name     string
	provider InformerProvider
	// prototype selects the informer's type
	prototype client.Object
	kind      event.Kind
	mapper    event.Mapper

	store *cache.Cache[client.Object]

	handler      event.Handler
	informer     crcache.Informer
	registration toolscache.ResourceEventHandlerRegistration
	running      bool
}

// NewPrimaryInformer creates the event source for a controller's primary resources.
func NewPrimaryInformer(name string, provider InformerProvider, prototype client.Object) *Informer {
	return newInformer(name, provider, prototype, event.KindPrimary, event.IdentityMapper)
}

// NewSecondaryInformer creates an event source for resources related to
// primaries. A nil mapper routes objects to their controlling owner.
func NewSecondaryInformer(name string, provider InformerProvider, prototype client.Object, mapper event.Mapper) *Informer {
	return newInformer(name, provider, prototype, event.KindSecondary, mapper)
}

func newInformer(name string, provider InformerProvider, prototype client.Object, kind event.Kind, mapper event.Mapper) *Informer {
	if mapper == nil {
		mapper = event.DefaultMapper(kind)
	}
	store := cache.New[client.Object]()
	if kind == event.KindSecondary {
		// The index is new, so registration cannot collide.
		_ = store.AddIndexer(PrimaryIndex, func(_ resource.ID, obj client.Object) []string {
			var keys []string
			for _, id := range mapper(obj) {
				keys = append(keys, id.String())
			}
			return keys
		})
	}
	return &Informer{
		name:      name,
		provider:  provider,
		prototype: prototype,
		kind:      kind,
		mapper:    mapper,
		store:     store,
	}
}

// Name returns the source name.
func (s *Informer) Name() string { return s.name }

// Start registers the event handler and waits for the informer to sync.
func (s *Informer) Start(ctx context.Context, handler event.Handler) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.handler = handler
	s.running = true
	s.mu.Unlock()

	informer, err := s.provider.GetInformer(ctx, s.prototype)
	if err != nil {
		s.setStopped()
		return fmt.Errorf("failed to get informer for %s: %w", s.name, err)
	}

	registration, err := informer.AddEventHandler(toolscache.ResourceEventHandlerFuncs{
		AddFunc:    s.handleAdd,
		UpdateFunc: s.handleUpdate,
		DeleteFunc: s.handleDelete,
	})
	if err != nil {
		s.setStopped()
		return fmt.Errorf("failed to add event handler for %s: %w", s.name, err)
	}

	s.mu.Lock()
	s.informer = informer
	s.registration = registration
	s.mu.Unlock()

	if !toolscache.WaitForCacheSync(ctx.Done(), informer.HasSynced) {
		return fmt.Errorf("informer for %s did not sync", s.name)
	}

	logging.Info("InformerSource", "Started informer source %s", s.name)
	return nil
}

func (s *Informer) setStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Informer) handleAdd(obj interface{}) {
	o, ok := obj.(client.Object)
	if !ok {
		logging.Warn("InformerSource", "Ignoring add of non-object %T in %s", obj, s.name)
		return
	}
	s.store.Put(resource.FromObject(o), o)
	s.emit(o, false)
}

func (s *Informer) handleUpdate(oldObj, newObj interface{}) {
	o, ok := newObj.(client.Object)
	if !ok {
		logging.Warn("InformerSource", "Ignoring update of non-object %T in %s", newObj, s.name)
		return
	}
	if old, ok := oldObj.(client.Object); ok && old.GetResourceVersion() == o.GetResourceVersion() {
		// Periodic resync, nothing changed.
		return
	}

	id := resource.FromObject(o)
	if s.kind == event.KindSecondary {
		// Primaries the object no longer maps to must learn about the change too.
		if previous, ok := s.store.Get(id); ok {
			s.store.Put(id, o)
			s.emitMoved(previous, o)
			return
		}
	}
	s.store.Put(id, o)
	s.emit(o, false)
}

func (s *Informer) handleDelete(obj interface{}) {
	// Objects deleted while the watch was down arrive wrapped.
	if tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	o, ok := obj.(client.Object)
	if !ok {
		logging.Warn("InformerSource", "Ignoring delete of non-object %T in %s", obj, s.name)
		return
	}
	s.store.Delete(resource.FromObject(o))
	s.emit(o, true)
}

func (s *Informer) emitMoved(previous, current client.Object) {
	seen := make(map[resource.ID]struct{})
	for _, id := range s.mapper(current) {
		seen[id] = struct{}{}
	}
	for _, id := range s.mapper(previous) {
		if _, ok := seen[id]; !ok {
			s.send(event.Event{ID: id, Kind: s.kind, Object: current, Source: s.name})
		}
	}
	s.emit(current, false)
}

func (s *Informer) emit(obj client.Object, deleted bool) {
	for _, id := range s.mapper(obj) {
		s.send(event.Event{
			ID:      id,
			Kind:    s.kind,
			Object:  obj,
			Deleted: deleted,
			Source:  s.name,
		})
	}
}

func (s *Informer) send(e event.Event) {
	s.mu.RLock()
	handler := s.handler
	running := s.running
	s.mu.RUnlock()

	if !running || handler == nil {
		return
	}
	handler.HandleEvent(e)
}

// Get returns the cached object with the given id. The object is shared with
// the informer and must be deep-copied before modification.
func (s *Informer) Get(id resource.ID) (client.Object, bool) {
	return s.store.Get(id)
}

// List returns every cached object.
func (s *Informer) List() []client.Object {
	return s.store.List()
}

// Secondaries returns the cached objects that map to primary.
func (s *Informer) Secondaries(primary resource.ID) []client.Object {
	ids, err := s.store.ByIndex(PrimaryIndex, primary.String())
	if err != nil {
		return nil
	}
	objs := make([]client.Object, 0, len(ids))
	for _, id := range ids {
		if obj, ok := s.store.Get(id); ok {
			objs = append(objs, obj)
		}
	}
	return objs
}

// Stop removes the event handler from the shared informer.
func (s *Informer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.informer != nil && s.registration != nil {
		if err := s.informer.RemoveEventHandler(s.registration); err != nil {
			return fmt.Errorf("failed to remove event handler for %s: %w", s.name, err)
		}
	}
	s.registration = nil

	logging.Info("InformerSource", "Stopped informer source %s", s.name)
	return nil
}

// Lookup returns a typed PrimaryLookup over the informer's cache.
func Lookup[P client.Object](s *Informer) PrimaryLookup[P] {
	return func(id resource.ID) (P, bool) {
		var zero P
		obj, ok := s.Get(id)
		if !ok {
			return zero, false
		}
		typed, ok := obj.(P)
		return typed, ok
	}
}
