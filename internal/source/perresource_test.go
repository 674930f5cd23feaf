package source

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/giantswarm/reconcilekit/internal/resource"
)

type primaryStore struct {
	mu      sync.Mutex
	objects map[resource.ID]*corev1.ConfigMap
}

func newPrimaryStore(objs ...*corev1.ConfigMap) *primaryStore {
	s := &primaryStore{objects: make(map[resource.ID]*corev1.ConfigMap)}
	for _, o := range objs {
		s.objects[resource.FromObject(o)] = o
	}
	return s
}

func (s *primaryStore) lookup(id resource.ID) (*corev1.ConfigMap, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	return o, ok
}

func configMap(name string, labels map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default", Labels: labels}}
}

func TestPerResourcePolling_OnlyChangesProduceEvents(t *testing.T) {
	primary := configMap("p", nil)
	id := resource.FromObject(primary)
	started := time.Now()

	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		if time.Since(started) < 150*time.Millisecond {
			return []item{{"r", "A"}}, nil
		}
		return []item{{"r", "B"}}, nil
	})

	rec := &eventRecorder{}
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(primary).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{Period: 100 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), rec))
	defer s.Stop()

	s.PrimaryObserved(primary)

	require.Eventually(t, func() bool {
		return len(s.List(id)) == 1 && s.List(id)[0].Value == "B"
	}, 2*time.Second, 10*time.Millisecond)

	// Let a few more unchanged polls happen.
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 2, rec.count())
	for _, e := range rec.all() {
		assert.Equal(t, id, e.ID)
	}
}

func TestPerResourcePolling_FetchesForOnePrimaryNeverOverlap(t *testing.T) {
	primary := configMap("p", nil)
	var inFlight, maxInFlight, calls atomic.Int32

	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return nil, nil
	})

	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(primary).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{Period: 5 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()
	s.PrimaryObserved(primary)

	// Fetch-on-read races with the loop.
	for i := 0; i < 5; i++ {
		_, err := s.GetOrFetch(context.Background(), resource.FromObject(primary))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestPerResourcePolling_RegisterPredicate(t *testing.T) {
	enabled := configMap("p", map[string]string{"poll": "true"})
	disabled := configMap("p", nil)
	id := resource.FromObject(enabled)

	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		return []item{{"r", "A"}}, nil
	})
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(enabled).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{
			Period:   time.Hour,
			Register: func(p *corev1.ConfigMap) bool { return p.Labels["poll"] == "true" },
		})
	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()

	s.PrimaryObserved(disabled)
	assert.False(t, s.Registered(id))

	s.PrimaryObserved(enabled)
	assert.True(t, s.Registered(id))
	require.Eventually(t, func() bool { return len(s.List(id)) == 1 }, time.Second, 5*time.Millisecond)

	// An update that fails the predicate stops polling and drops the cache.
	s.PrimaryObserved(disabled)
	assert.False(t, s.Registered(id))
	_, presence := s.Get(id)
	assert.Equal(t, PresenceUnknown, presence)
}

func TestPerResourcePolling_PrimaryObservedBeforeStart(t *testing.T) {
	primary := configMap("p", nil)
	id := resource.FromObject(primary)
	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		return []item{{"r", "A"}}, nil
	})
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(primary).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{Period: time.Hour})

	s.PrimaryObserved(primary)
	assert.False(t, s.Registered(id))

	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()
	assert.True(t, s.Registered(id))
	require.Eventually(t, func() bool { return len(s.List(id)) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPerResourcePolling_DeletedPrimaryStopsPolling(t *testing.T) {
	primary := configMap("p", nil)
	id := resource.FromObject(primary)
	var calls atomic.Int32
	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		calls.Add(1)
		return []item{{"r", "A"}}, nil
	})
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(primary).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{Period: 10 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()

	s.PrimaryObserved(primary)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.PrimaryDeleted(id)
	assert.False(t, s.Registered(id))
	assert.Empty(t, s.List(id))

	// Allow an in-flight fetch to finish, then make sure nothing else runs.
	time.Sleep(30 * time.Millisecond)
	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestPerResourcePolling_FetchErrorKeepsCache(t *testing.T) {
	primary := configMap("p", nil)
	id := resource.FromObject(primary)
	var fail atomic.Bool
	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		if fail.Load() {
			return nil, errors.New("boom")
		}
		return []item{{"r", "A"}}, nil
	})
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(primary).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{Period: 10 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()

	s.PrimaryObserved(primary)
	require.Eventually(t, func() bool { return len(s.List(id)) == 1 }, time.Second, 5*time.Millisecond)

	fail.Store(true)
	require.Eventually(t, func() bool { return !s.Healthy() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []item{{"r", "A"}}, s.List(id))
}

func TestPerResourcePolling_FetchDelayOverridesPeriod(t *testing.T) {
	primary := configMap("p", nil)
	var calls atomic.Int32
	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		calls.Add(1)
		return nil, nil
	})
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(primary).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{
			Period: time.Hour,
			FetchDelay: func([]item, *corev1.ConfigMap) (time.Duration, bool) {
				return 5 * time.Millisecond, true
			},
		})
	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()

	s.PrimaryObserved(primary)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestPerResourcePolling_GetOrFetch(t *testing.T) {
	primary := configMap("p", nil)
	id := resource.FromObject(primary)
	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		return []item{{"r", "A"}}, nil
	})
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(primary).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{Period: time.Hour})
	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()

	unregistered, err := s.GetOrFetch(context.Background(), resource.NewID("other", "default"))
	require.NoError(t, err)
	assert.Empty(t, unregistered)

	s.PrimaryObserved(primary)
	got, err := s.GetOrFetch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, map[string]item{"r": {"r", "A"}}, got)
}

func TestPerResourcePolling_GetOrFetchReportsFailures(t *testing.T) {
	primary := configMap("p", nil)
	id := resource.FromObject(primary)
	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		return nil, errors.New("backend down")
	})
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore(primary).lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{Period: time.Hour})
	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()

	s.PrimaryObserved(primary)
	got, err := s.GetOrFetch(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Empty(t, got)

	_, presence := s.Get(id)
	assert.Equal(t, PresenceUnknown, presence)
}

func TestPerResourcePolling_GetOrFetchUnknownPrimary(t *testing.T) {
	primary := configMap("p", nil)
	fetcher := FetcherFunc[*corev1.ConfigMap, item](func(context.Context, *corev1.ConfigMap) ([]item, error) {
		return []item{{"r", "A"}}, nil
	})
	// The primary is observed but not yet in the primary cache.
	s := NewPerResourcePolling("external", fetcher, newPrimaryStore().lookup, itemKey,
		PerResourceOptions[*corev1.ConfigMap, item]{Period: time.Hour})
	require.NoError(t, s.Start(context.Background(), &eventRecorder{}))
	defer s.Stop()

	s.PrimaryObserved(primary)
	_, err := s.GetOrFetch(context.Background(), resource.FromObject(primary))
	require.ErrorIs(t, err, ErrNotFetched)
}
