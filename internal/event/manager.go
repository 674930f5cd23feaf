package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/giantswarm/reconcilekit/pkg/logging"
)

const defaultSyncTimeout = 2 * time.Minute

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// SyncTimeout bounds how long a single source may take to start and sync.
	SyncTimeout time.Duration
}

// Manager owns a set of event sources: it starts them, stops them in reverse
// registration order and forwards their events to a single Handler.
//
// The Manager is itself the Handler every source emits to. Events of kind
// KindPrimary are also fanned out to sources implementing PrimaryAware, which
// is how per-primary sources learn which primaries exist.
type Manager struct {
	mu sync.RWMutex

	config  ManagerConfig
	handler Handler

	// sources holds sources in registration order
	sources []Source
	byName  map[string]Source

	ctx        context.Context
	cancelFunc context.CancelFunc
	running    bool
}

// NewManager creates a Manager that forwards events to handler.
func NewManager(handler Handler, config ManagerConfig) *Manager {
	if config.SyncTimeout == 0 {
		config.SyncTimeout = defaultSyncTimeout
	}
	return &Manager{
		config:  config,
		handler: handler,
		byName:  make(map[string]Source),
	}
}

// Register adds a source. Names must be unique. A source registered while the
// manager is running is started immediately.
func (m *Manager) Register(src Source) error {
	m.mu.Lock()
	name := src.Name()
	if name == "" {
		m.mu.Unlock()
		return fmt.Errorf("event source must have a name")
	}
	if _, exists := m.byName[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("event source %q already registered", name)
	}
	m.sources = append(m.sources, src)
	m.byName[name] = src
	running := m.running
	ctx := m.ctx
	m.mu.Unlock()

	logging.Debug("EventSourceManager", "Registered event source %s", name)

	if running {
		if err := m.startSource(ctx, ctx, src); err != nil {
			m.remove(name)
			return err
		}
	}
	return nil
}

// Deregister stops and removes the named source.
func (m *Manager) Deregister(name string) error {
	src, ok := m.remove(name)
	if !ok {
		return fmt.Errorf("event source %q not registered", name)
	}

	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if !running {
		return nil
	}
	if err := src.Stop(); err != nil {
		return fmt.Errorf("failed to stop event source %q: %w", name, err)
	}
	return nil
}

func (m *Manager) remove(name string) (Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	delete(m.byName, name)
	for i, s := range m.sources {
		if s.Name() == name {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			break
		}
	}
	return src, true
}

// Start starts all registered sources concurrently and waits for them to sync.
// It fails as soon as one source fails or exceeds the sync timeout, in which
// case every source is stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	sources := append([]Source(nil), m.sources...)
	startCtx := m.ctx
	m.mu.Unlock()

	g, abort := errgroup.WithContext(startCtx)
	for _, src := range sources {
		g.Go(func() error {
			return m.startSource(startCtx, abort, src)
		})
	}

	if err := g.Wait(); err != nil {
		if stopErr := m.Stop(); stopErr != nil {
			logging.Error("EventSourceManager", stopErr, "Error stopping event sources after failed start")
		}
		return err
	}

	logging.Info("EventSourceManager", "Started %d event sources", len(sources))
	return nil
}

// startSource starts src with the long-lived ctx and waits for it to sync.
// Waiting ends early when abort is cancelled.
func (m *Manager) startSource(ctx, abort context.Context, src Source) error {
	done := make(chan error, 1)
	go func() {
		done <- src.Start(ctx, m)
	}()

	timer := time.NewTimer(m.config.SyncTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to start event source %q: %w", src.Name(), err)
		}
		logging.Debug("EventSourceManager", "Event source %s started", src.Name())
		return nil
	case <-timer.C:
		return fmt.Errorf("event source %q did not sync within %v", src.Name(), m.config.SyncTimeout)
	case <-abort.Done():
		return fmt.Errorf("event source %q start aborted: %w", src.Name(), abort.Err())
	}
}

// Stop stops all sources in reverse registration order. Every source is asked
// to stop even if an earlier one fails; failures are returned as an aggregate.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	sources := append([]Source(nil), m.sources...)
	cancel := m.cancelFunc
	m.mu.Unlock()

	var errs []error
	for i := len(sources) - 1; i >= 0; i-- {
		src := sources[i]
		if err := src.Stop(); err != nil {
			logging.Error("EventSourceManager", err, "Failed to stop event source %s", src.Name())
			errs = append(errs, fmt.Errorf("event source %q: %w", src.Name(), err))
		}
	}

	if cancel != nil {
		cancel()
	}

	logging.Info("EventSourceManager", "Stopped %d event sources", len(sources))
	return utilerrors.NewAggregate(errs)
}

// HandleEvent forwards e to the manager's handler. Primary events are first
// fanned out to PrimaryAware sources.
func (m *Manager) HandleEvent(e Event) {
	if e.Kind == KindPrimary {
		m.notifyPrimaryAware(e)
	}
	logging.Debug("EventSourceManager", "Event from %s for %s (kind=%s deleted=%t)", e.Source, e.ID, e.Kind, e.Deleted)
	m.handler.HandleEvent(e)
}

func (m *Manager) notifyPrimaryAware(e Event) {
	m.mu.RLock()
	sources := append([]Source(nil), m.sources...)
	m.mu.RUnlock()

	for _, src := range sources {
		aware, ok := src.(PrimaryAware)
		if !ok {
			continue
		}
		if e.Deleted {
			aware.PrimaryDeleted(e.ID)
		} else if e.Object != nil {
			aware.PrimaryObserved(e.Object)
		}
	}
}

// Source returns the named source.
func (m *Manager) Source(name string) (Source, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.byName[name]
	return src, ok
}

// Sources returns the registered sources in registration order.
func (m *Manager) Sources() []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Source(nil), m.sources...)
}

// Health reports the health of every source. Sources that do not implement
// HealthReporter are healthy while registered.
func (m *Manager) Health() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health := make(map[string]bool, len(m.sources))
	for _, src := range m.sources {
		healthy := true
		if hr, ok := src.(HealthReporter); ok {
			healthy = hr.Healthy()
		}
		health[src.Name()] = healthy
	}
	return health
}

// IsRunning returns whether the manager is started.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// SourceAs looks up a source by name and asserts its type.
func SourceAs[T Source](m *Manager, name string) (T, error) {
	var zero T
	src, ok := m.Source(name)
	if !ok {
		return zero, fmt.Errorf("event source %q not registered", name)
	}
	typed, ok := src.(T)
	if !ok {
		return zero, fmt.Errorf("event source %q has type %T", name, src)
	}
	return typed, nil
}
