// Package operator runs a set of controllers as one process.
package operator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/giantswarm/reconcilekit/internal/config"
	"github.com/giantswarm/reconcilekit/internal/reconciler"
	"github.com/giantswarm/reconcilekit/internal/workflow"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// Runnable is a controller as seen by the operator. controller.Controller
// implements it for every primary type.
type Runnable interface {
	Name() string
	Start(ctx context.Context) error
	StopEventSources() error
	StopDispatcher(ctx context.Context) error
}

// Operator owns the controllers of a process and the infrastructure they
// share: the workflow executor and the metrics.
type Operator struct {
	mu sync.RWMutex

	config   config.Config
	executor *workflow.Executor
	metrics  *reconciler.Metrics

	// controllers in registration order
	controllers []Runnable
	byName      map[string]Runnable

	ctx     context.Context
	running bool
}

// New creates an operator. Metrics are registered on registerer, or on
// controller-runtime's registry when registerer is nil, unless disabled in
// cfg.
func New(cfg config.Config, registerer prometheus.Registerer) (*Operator, error) {
	if cfg.Operator.ShutdownGracePeriod == 0 {
		cfg.Operator.ShutdownGracePeriod = config.DefaultShutdownGracePeriod
	}

	o := &Operator{
		config:   cfg,
		executor: workflow.NewExecutor(cfg.Operator.WorkflowConcurrency),
		byName:   make(map[string]Runnable),
	}
	if cfg.Operator.Metrics {
		metrics, err := reconciler.NewMetrics(registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		o.metrics = metrics
	}
	return o, nil
}

// Executor returns the workflow executor shared by all controllers.
func (o *Operator) Executor() *workflow.Executor { return o.executor }

// Metrics returns the shared metrics, or nil when disabled.
func (o *Operator) Metrics() *reconciler.Metrics { return o.metrics }

// DispatcherConfig returns the dispatcher configuration of the named
// controller with the shared metrics attached.
func (o *Operator) DispatcherConfig(name string) reconciler.Config {
	cfg := o.config.Controller(name).DispatcherConfig()
	cfg.Metrics = o.metrics
	return cfg
}

// SyncTimeout returns how long event sources may take to sync.
func (o *Operator) SyncTimeout() time.Duration { return o.config.Operator.SyncTimeout }

// Register adds a controller. A controller registered while the operator is
// running is started immediately.
func (o *Operator) Register(r Runnable) error {
	o.mu.Lock()
	name := r.Name()
	if _, exists := o.byName[name]; exists {
		o.mu.Unlock()
		return fmt.Errorf("controller %q already registered", name)
	}
	o.controllers = append(o.controllers, r)
	o.byName[name] = r
	running, ctx := o.running, o.ctx
	o.mu.Unlock()

	logging.Info("Operator", "Registered controller %s", name)

	if running {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("failed to start controller %q: %w", name, err)
		}
	}
	return nil
}

// Controllers returns the names of the registered controllers.
func (o *Operator) Controllers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := make([]string, len(o.controllers))
	for i, r := range o.controllers {
		names[i] = r.Name()
	}
	return names
}

// Start starts every controller in registration order. If one fails, the
// controllers started so far are stopped again.
func (o *Operator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.ctx = ctx
	controllers := append([]Runnable(nil), o.controllers...)
	o.mu.Unlock()

	for i, r := range controllers {
		if err := r.Start(ctx); err != nil {
			logging.Error("Operator", err, "Failed to start controller %s", r.Name())
			o.stop(controllers[:i])
			o.mu.Lock()
			o.running = false
			o.mu.Unlock()
			return fmt.Errorf("failed to start controller %q: %w", r.Name(), err)
		}
	}

	logging.Info("Operator", "Started %d controllers", len(controllers))
	return nil
}

// Stop shuts the operator down. Event sources of all controllers stop first,
// so no new work arrives, then dispatchers drain for at most the shutdown
// grace period. Reconciliations still running after that are abandoned.
func (o *Operator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	controllers := append([]Runnable(nil), o.controllers...)
	o.mu.Unlock()

	return o.stop(controllers)
}

func (o *Operator) stop(controllers []Runnable) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	addErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	for i := len(controllers) - 1; i >= 0; i-- {
		if err := controllers[i].StopEventSources(); err != nil {
			addErr(fmt.Errorf("controller %q: %w", controllers[i].Name(), err))
		}
	}

	grace := o.config.Operator.ShutdownGracePeriod
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range controllers {
		wg.Add(1)
		go func(r Runnable) {
			defer wg.Done()
			if err := r.StopDispatcher(ctx); err != nil {
				addErr(fmt.Errorf("controller %q: %w", r.Name(), err))
			}
		}(r)
	}
	wg.Wait()

	logging.Info("Operator", "Stopped %d controllers (grace period %v)", len(controllers), grace)
	return utilerrors.NewAggregate(errs)
}
