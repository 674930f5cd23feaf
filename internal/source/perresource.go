package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// ErrNotFetched is returned when resources cannot be fetched because the
// primary is not known yet.
var ErrNotFetched = errors.New("resources not fetched")

// ResourceFetcher fetches the external resources belonging to one primary.
type ResourceFetcher[P client.Object, R any] interface {
	Fetch(ctx context.Context, primary P) ([]R, error)
}

// FetcherFunc adapts a function to ResourceFetcher.
type FetcherFunc[P client.Object, R any] func(ctx context.Context, primary P) ([]R, error)

// Fetch calls f.
func (f FetcherFunc[P, R]) Fetch(ctx context.Context, primary P) ([]R, error) {
	return f(ctx, primary)
}

// PrimaryLookup returns the latest cached version of a primary.
type PrimaryLookup[P client.Object] func(id resource.ID) (P, bool)

// PerResourceOptions configures a PerResourcePolling source.
type PerResourceOptions[P client.Object, R any] struct {
	// Period between two fetches for the same primary.
	Period time.Duration
	// Register decides whether a primary is polled at all. Nil polls every primary.
	Register func(primary P) bool
	// FetchDelay overrides Period after each fetch when it returns true.
	FetchDelay func(fetched []R, primary P) (time.Duration, bool)
	// Equal compares two observations of one resource. Nil uses DefaultEqual.
	Equal EqualFunc[R]
}

// PerResourcePolling runs one polling task per registered primary. Each task
// re-reads the latest primary, fetches its resources and feeds the cache, so
// only real changes turn into events. Fetches for the same primary never
// overlap; fetches for different primaries run concurrently.
type PerResourcePolling[P client.Object, R any] struct {
	*Caching[R]

	fetcher ResourceFetcher[P, R]
	lookup  PrimaryLookup[P]
	opts    PerResourceOptions[P, R]
	healthy atomic.Bool

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	tasks   map[resource.ID]*pollTask
	// pending holds primaries observed before Start.
	pending map[resource.ID]struct{}
	wg      sync.WaitGroup
}

type pollTask struct {
	// fetchMu serializes fetches for one primary, including fetch-on-read.
	fetchMu sync.Mutex
	cancel  context.CancelFunc
}

// NewPerResourcePolling creates a per-resource polling source.
func NewPerResourcePolling[P client.Object, R any](name string, fetcher ResourceFetcher[P, R], lookup PrimaryLookup[P], keyFn KeyFunc[R], opts PerResourceOptions[P, R]) *PerResourcePolling[P, R] {
	if opts.Period <= 0 {
		opts.Period = 30 * time.Second
	}
	s := &PerResourcePolling[P, R]{
		Caching: newCaching(name, keyFn, opts.Equal),
		fetcher: fetcher,
		lookup:  lookup,
		opts:    opts,
		tasks:   make(map[resource.ID]*pollTask),
		pending: make(map[resource.ID]struct{}),
	}
	s.healthy.Store(true)
	return s
}

// Start begins polling for every primary observed so far.
func (s *PerResourcePolling[P, R]) Start(ctx context.Context, handler event.Handler) error {
	s.bind(handler)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for id := range s.pending {
		s.startTaskLocked(id)
	}
	s.pending = make(map[resource.ID]struct{})

	logging.Info("PollingSource", "Started per-resource polling source %s every %v", s.name, s.opts.Period)
	return nil
}

// PrimaryObserved registers polling for a created or updated primary, or
// deregisters it if the register predicate no longer holds.
func (s *PerResourcePolling[P, R]) PrimaryObserved(obj client.Object) {
	primary, ok := obj.(P)
	if !ok {
		return
	}
	id := resource.FromObject(obj)

	if s.opts.Register != nil && !s.opts.Register(primary) {
		s.deregister(id)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.pending[id] = struct{}{}
		return
	}
	if _, exists := s.tasks[id]; !exists {
		s.startTaskLocked(id)
	}
}

// PrimaryDeleted stops polling for the primary and drops its cached resources.
func (s *PerResourcePolling[P, R]) PrimaryDeleted(id resource.ID) {
	s.deregister(id)
}

func (s *PerResourcePolling[P, R]) deregister(id resource.ID) {
	s.mu.Lock()
	delete(s.pending, id)
	task, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
		task.cancel()
	}
	s.mu.Unlock()

	if ok {
		s.forget(id)
		logging.Debug("PollingSource", "Stopped polling %s for %s", s.name, id)
	}
}

// Registered reports whether a polling task exists for id.
func (s *PerResourcePolling[P, R]) Registered(id resource.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *PerResourcePolling[P, R]) startTaskLocked(id resource.ID) {
	ctx, cancel := context.WithCancel(s.ctx)
	task := &pollTask{cancel: cancel}
	s.tasks[id] = task

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, id, task)
	}()
	logging.Debug("PollingSource", "Started polling %s for %s", s.name, id)
}

func (s *PerResourcePolling[P, R]) run(ctx context.Context, id resource.ID, task *pollTask) {
	// The task has stopped fetching, so the tombstone left by forget is spent.
	defer s.store.ForgetTombstone(id)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := s.opts.Period
		fetched, primary, err := s.fetchFor(ctx, id, task)
		if err == nil && s.opts.FetchDelay != nil {
			if d, override := s.opts.FetchDelay(fetched, primary); override {
				delay = d
			}
		}
		timer.Reset(delay)
	}
}

func (s *PerResourcePolling[P, R]) fetchFor(ctx context.Context, id resource.ID, task *pollTask) ([]R, P, error) {
	task.fetchMu.Lock()
	defer task.fetchMu.Unlock()

	var zero P
	primary, ok := s.lookup(id)
	if !ok {
		return nil, zero, fmt.Errorf("primary %s is not cached: %w", id, ErrNotFetched)
	}

	token := s.store.Observe()
	fetched, err := s.fetcher.Fetch(ctx, primary)
	if err != nil {
		if ctx.Err() == nil {
			s.healthy.Store(false)
			logging.Error("PollingSource", err, "Fetch of %s for %s failed, keeping cached state", s.name, id)
		}
		return nil, primary, fmt.Errorf("failed to fetch %s for %s: %w", s.name, id, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, primary, err
	}
	s.healthy.Store(true)
	s.HandleResources(id, fetched, token)
	return fetched, primary, nil
}

// GetOrFetch returns the cached resources of id, fetching synchronously when
// the source has not fetched for id yet. Primaries that are not registered
// yield an empty result. A failed fetch is returned as an error, so callers can
// tell it apart from resources that are confirmed absent.
func (s *PerResourcePolling[P, R]) GetOrFetch(ctx context.Context, id resource.ID) (map[string]R, error) {
	current, presence := s.Get(id)
	if presence != PresenceUnknown {
		return current, nil
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return current, nil
	}

	if _, _, err := s.fetchFor(ctx, id, task); err != nil {
		return current, err
	}
	current, _ = s.Get(id)
	return current, nil
}

// Healthy reports whether the most recent fetch succeeded.
func (s *PerResourcePolling[P, R]) Healthy() bool {
	return s.healthy.Load()
}

// Stop cancels all tasks and waits for in-flight fetches.
func (s *PerResourcePolling[P, R]) Stop() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.tasks = make(map[resource.ID]*pollTask)
	s.mu.Unlock()

	s.wg.Wait()
	s.bind(nil)
	return nil
}
