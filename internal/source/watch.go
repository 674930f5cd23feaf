package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/cache"
	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// WatchFunc opens a change stream.
type WatchFunc func(ctx context.Context) (watch.Interface, error)

// ListFunc lists the current state of the watched objects.
type ListFunc func(ctx context.Context) ([]client.Object, error)

// ReconnectPolicy controls how a Watch re-opens a stream that ended.
type ReconnectPolicy struct {
	// MaxRetries is the number of consecutive failed reconnects before the
	// source gives up. Negative retries forever.
	MaxRetries int
	// Backoff spaces reconnect attempts. A zero Duration uses the backoff of
	// DefaultReconnectPolicy.
	Backoff wait.Backoff
	// Relist, when set, runs after every reconnect. Objects cached but missing
	// from the list were deleted while the stream was down and are emitted as
	// deletions. Without it such deletions go unnoticed until the object
	// reappears.
	Relist ListFunc
}

// DefaultReconnectPolicy retries forever with a capped exponential backoff.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxRetries: -1,
		Backoff: wait.Backoff{
			Duration: time.Second,
			Factor:   2,
			Jitter:   0.1,
			Steps:    10,
			Cap:      time.Minute,
		},
	}
}

// Watch consumes a raw watch.Interface and re-opens it according to its
// ReconnectPolicy. Use it for APIs that offer a watch endpoint but no informer.
type Watch struct {
	name    string
	watchFn WatchFunc
	kind    event.Kind
	mapper  event.Mapper
	policy  ReconnectPolicy
	store   *cache.Cache[client.Object]
	healthy atomic.Bool

	mu         sync.Mutex
	handler    event.Handler
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewWatch creates a raw watch source. A nil mapper routes primary objects to
// themselves and secondary objects to their controlling owner.
func NewWatch(name string, watchFn WatchFunc, kind event.Kind, mapper event.Mapper, policy ReconnectPolicy) *Watch {
	if mapper == nil {
		mapper = event.DefaultMapper(kind)
	}
	if policy.Backoff.Duration <= 0 {
		policy.Backoff = DefaultReconnectPolicy().Backoff
	}
	return &Watch{
		name:    name,
		watchFn: watchFn,
		kind:    kind,
		mapper:  mapper,
		policy:  policy,
		store:   cache.New[client.Object](),
	}
}

// Name returns the source name.
func (w *Watch) Name() string { return w.name }

// Start opens the first stream synchronously, then consumes it in the background.
func (w *Watch) Start(ctx context.Context, handler event.Handler) error {
	stream, err := w.watchFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to open watch for %s: %w", w.name, err)
	}
	w.healthy.Store(true)

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.handler = handler
	w.cancelFunc = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, stream)
	}()
	return nil
}

func (w *Watch) run(ctx context.Context, stream watch.Interface) {
	for {
		w.consume(ctx, stream)
		if ctx.Err() != nil {
			return
		}

		next, ok := w.reconnect(ctx)
		if !ok {
			return
		}
		w.relist(ctx)
		stream = next
	}
}

// relist reconciles the cache with a fresh listing after a reconnect.
func (w *Watch) relist(ctx context.Context) {
	if w.policy.Relist == nil {
		return
	}
	objs, err := w.policy.Relist(ctx)
	if err != nil {
		logging.Warn("WatchSource", "Relist of %s failed, deletions during the outage may be missed: %v", w.name, err)
		return
	}

	listed := make(map[resource.ID]struct{}, len(objs))
	for _, obj := range objs {
		listed[resource.FromObject(obj)] = struct{}{}
		w.apply(watch.Event{Type: watch.Modified, Object: obj})
	}
	for _, id := range w.store.Keys() {
		if _, ok := listed[id]; ok {
			continue
		}
		if old, ok := w.store.Delete(id); ok {
			w.emit(old, true)
		}
	}
}

// consume drains stream until it ends or ctx is cancelled.
func (w *Watch) consume(ctx context.Context, stream watch.Interface) {
	defer stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.ResultChan():
			if !ok {
				logging.Debug("WatchSource", "Watch stream of %s ended", w.name)
				return
			}
			if ev.Type == watch.Error {
				err := apierrors.FromObject(ev.Object)
				logging.Warn("WatchSource", "Watch of %s reported an error: %v", w.name, err)
				return
			}
			w.apply(ev)
		}
	}
}

func (w *Watch) reconnect(ctx context.Context) (watch.Interface, bool) {
	backoff := w.policy.Backoff
	for attempt := 1; w.policy.MaxRetries < 0 || attempt <= w.policy.MaxRetries; attempt++ {
		timer := time.NewTimer(backoff.Step())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		stream, err := w.watchFn(ctx)
		if err == nil {
			w.healthy.Store(true)
			logging.Debug("WatchSource", "Re-opened watch of %s after %d attempt(s)", w.name, attempt)
			return stream, true
		}
		w.healthy.Store(false)
		logging.Warn("WatchSource", "Reconnect %d of watch %s failed: %v", attempt, w.name, err)
	}

	w.healthy.Store(false)
	logging.Error("WatchSource", nil, "Giving up on watch %s after %d reconnect attempts", w.name, w.policy.MaxRetries)
	return nil, false
}

func (w *Watch) apply(ev watch.Event) {
	obj, ok := ev.Object.(client.Object)
	if !ok {
		return
	}
	id := resource.FromObject(obj)

	switch ev.Type {
	case watch.Added, watch.Modified:
		if previous, ok := w.store.Get(id); ok && previous.GetResourceVersion() != "" &&
			previous.GetResourceVersion() == obj.GetResourceVersion() {
			return
		}
		w.store.Put(id, obj)
		w.emit(obj, false)
	case watch.Deleted:
		w.store.Delete(id)
		w.emit(obj, true)
	case watch.Bookmark:
		// Bookmarks only advance the resource version.
	}
}

func (w *Watch) emit(obj client.Object, deleted bool) {
	w.mu.Lock()
	handler := w.handler
	w.mu.Unlock()
	if handler == nil {
		return
	}
	for _, id := range w.mapper(obj) {
		handler.HandleEvent(event.Event{ID: id, Kind: w.kind, Object: obj, Deleted: deleted, Source: w.name})
	}
}

// Get returns the last observed object with the given id.
func (w *Watch) Get(id resource.ID) (client.Object, bool) {
	return w.store.Get(id)
}

// Healthy reports whether the stream is open.
func (w *Watch) Healthy() bool {
	return w.healthy.Load()
}

// Stop closes the stream and waits for the consumer to return.
func (w *Watch) Stop() error {
	w.mu.Lock()
	cancel := w.cancelFunc
	w.cancelFunc = nil
	w.handler = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	return nil
}
