package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// SnapshotFetcher lists the external resources of every primary at once.
type SnapshotFetcher[R any] func(ctx context.Context) (map[resource.ID][]R, error)

// Polling periodically fetches a global snapshot of an external system.
// The first fetch happens synchronously in Start, later fetches run on a single
// loop so at most one fetch is in flight.
type Polling[R any] struct {
	*Caching[R]

	fetch  SnapshotFetcher[R]
	period time.Duration

	pollMu  sync.Mutex
	healthy atomic.Bool

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewPolling creates a global polling source. equal may be nil. A non-positive
// period defaults to 30 seconds.
func NewPolling[R any](name string, period time.Duration, keyFn KeyFunc[R], fetch SnapshotFetcher[R], equal EqualFunc[R]) *Polling[R] {
	if period <= 0 {
		period = 30 * time.Second
	}
	return &Polling[R]{
		Caching: newCaching(name, keyFn, equal),
		fetch:   fetch,
		period:  period,
	}
}

// Start performs the initial fetch and starts the polling loop.
func (p *Polling[R]) Start(ctx context.Context, handler event.Handler) error {
	p.bind(handler)

	if err := p.Poll(ctx); err != nil {
		return fmt.Errorf("initial poll failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelFunc = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		timer := time.NewTimer(p.period)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait.UntilWithContext(ctx, func(ctx context.Context) {
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				logging.Error("PollingSource", err, "Poll of %s failed, keeping cached state", p.name)
			}
		}, p.period)
	}()

	logging.Info("PollingSource", "Started polling source %s every %v", p.name, p.period)
	return nil
}

// Poll fetches once and applies the snapshot. A failed fetch keeps the cache
// and marks the source unhealthy.
func (p *Polling[R]) Poll(ctx context.Context) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	token := p.store.Observe()
	snapshot, err := p.fetch(ctx)
	if err != nil {
		p.healthy.Store(false)
		return err
	}
	p.healthy.Store(true)
	p.HandleSnapshot(snapshot, token)
	// Only this loop writes through tokens, so older tombstones are spent.
	p.store.PruneTombstones(token)
	return nil
}

// Healthy reports whether the last fetch succeeded.
func (p *Polling[R]) Healthy() bool {
	return p.healthy.Load()
}

// Stop ends the polling loop and waits for an in-flight fetch to return.
func (p *Polling[R]) Stop() error {
	p.mu.Lock()
	cancel := p.cancelFunc
	p.cancelFunc = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.bind(nil)
	return nil
}
