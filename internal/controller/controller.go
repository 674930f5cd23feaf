package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/events"
	"github.com/giantswarm/reconcilekit/internal/reconciler"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/internal/source"
	"github.com/giantswarm/reconcilekit/internal/workflow"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// DefaultCleanupRecheck is how long a controller waits before retrying a
// cleanup whose dependents are not gone yet and gave no hint.
const DefaultCleanupRecheck = 5 * time.Second

// Options configures a Controller.
type Options[P client.Object] struct {
	// Finalizer defaults to "<name>.reconcilekit.giantswarm.io/finalizer".
	Finalizer string
	// Dispatcher configures retries, concurrency and filtering. Its Name is
	// set to the controller's name.
	Dispatcher reconciler.Config
	// Workflow is reconciled before the Reconciler runs and cleaned up when
	// the primary is deleted.
	Workflow *workflow.Workflow[P]
	// SyncTimeout bounds how long event sources may take to sync.
	SyncTimeout time.Duration
	// Events records lifecycle transitions on primaries. Optional.
	Events *events.Recorder
}

// Controller reconciles primaries of type P.
type Controller[P client.Object] struct {
	name       string
	client     client.Client
	reconciler Reconciler[P]
	workflow   *workflow.Workflow[P]
	finalizer  string
	recorder   *events.Recorder

	primaries  *source.Informer
	lookup     source.PrimaryLookup[P]
	timer      *source.Timer
	sources    *event.Manager
	dispatcher *reconciler.Dispatcher
}

// New creates a controller. prototype selects the primary type to watch
// through informers.
func New[P client.Object](name string, c client.Client, informers source.InformerProvider, prototype P, r Reconciler[P], opts Options[P]) (*Controller[P], error) {
	if name == "" {
		return nil, errors.New("controller name must not be empty")
	}
	if r == nil {
		return nil, fmt.Errorf("controller %s has no reconciler", name)
	}

	ctrl := &Controller[P]{
		name:       name,
		client:     c,
		reconciler: r,
		workflow:   opts.Workflow,
		finalizer:  opts.Finalizer,
		recorder:   opts.Events,
	}
	if ctrl.finalizer == "" {
		ctrl.finalizer = name + ".reconcilekit.giantswarm.io/finalizer"
	}

	ctrl.timer = source.NewTimer(name + "-timer")
	ctrl.primaries = source.NewPrimaryInformer(name+"-primary", informers, prototype)
	ctrl.lookup = source.Lookup[P](ctrl.primaries)

	dispatcherConfig := opts.Dispatcher
	dispatcherConfig.Name = name
	ctrl.dispatcher = reconciler.NewDispatcher(dispatcherConfig, ctrl, ctrl.timer)
	ctrl.sources = event.NewManager(ctrl.dispatcher, event.ManagerConfig{SyncTimeout: opts.SyncTimeout})

	for _, src := range []event.Source{ctrl.timer, ctrl.primaries} {
		if err := ctrl.sources.Register(src); err != nil {
			return nil, err
		}
	}
	return ctrl, nil
}

// Name returns the controller name.
func (c *Controller[P]) Name() string { return c.name }

// Finalizer returns the finalizer the controller manages.
func (c *Controller[P]) Finalizer() string { return c.finalizer }

// RegisterEventSource adds a source whose events trigger reconciliations.
func (c *Controller[P]) RegisterEventSource(src event.Source) error {
	return c.sources.Register(src)
}

// EventSources returns the controller's event source manager.
func (c *Controller[P]) EventSources() *event.Manager { return c.sources }

// Dispatcher returns the controller's dispatcher.
func (c *Controller[P]) Dispatcher() *reconciler.Dispatcher { return c.dispatcher }

// Start starts the dispatcher, then every event source. It returns once all
// sources are synced.
func (c *Controller[P]) Start(ctx context.Context) error {
	if err := c.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher of %s: %w", c.name, err)
	}
	if err := c.sources.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.dispatcher.Stop(stopCtx)
		return fmt.Errorf("failed to start event sources of %s: %w", c.name, err)
	}
	logging.Info("Controller", "Started controller %s", c.name)
	return nil
}

// StopEventSources stops delivering new events.
func (c *Controller[P]) StopEventSources() error {
	return c.sources.Stop()
}

// StopDispatcher drains in-flight reconciliations until ctx ends.
func (c *Controller[P]) StopDispatcher(ctx context.Context) error {
	return c.dispatcher.Stop(ctx)
}

// Stop stops event sources, then drains the dispatcher until ctx ends.
func (c *Controller[P]) Stop(ctx context.Context) error {
	return errors.Join(c.StopEventSources(), c.StopDispatcher(ctx))
}

// Reconcile implements reconciler.Handler.
func (c *Controller[P]) Reconcile(ctx context.Context, req reconciler.Request) (reconciler.Result, error) {
	primary, ok := c.primary(req.ID)
	if !ok {
		logging.Debug("Controller", "Primary %s of %s is gone, nothing to do", req.ID, c.name)
		return reconciler.Result{Forget: true}, nil
	}

	rc := c.newContext(req)

	if resource.IsMarkedForDeletion(primary) {
		return c.cleanup(ctx, primary, rc)
	}

	if c.needsFinalizer() && !controllerutil.ContainsFinalizer(primary, c.finalizer) {
		if err := c.patchFinalizer(ctx, primary, controllerutil.AddFinalizer); err != nil {
			return reconciler.Result{}, fmt.Errorf("failed to add finalizer: %w", err)
		}
		c.record(ctx, primary, events.ReasonFinalizerAdded, events.EventData{})
	}

	var hint time.Duration
	if c.workflow != nil {
		result := c.workflow.Reconcile(ctx, primary)
		rc.reconcile = result
		if err := result.Errors(); err != nil {
			c.record(ctx, primary, events.ReasonWorkflowFailed, events.EventData{
				Nodes: strings.Join(result.ErroredNodes(), ", "),
			})
			return reconciler.Result{}, fmt.Errorf("workflow of %s failed: %w", req.ID, err)
		}
		if result.AllDependentsReady() && changedDependents(result) {
			c.record(ctx, primary, events.ReasonDependentsReady, events.EventData{})
		}
		hint, _ = result.RescheduleAfter()
	}

	res, err := c.reconciler.Reconcile(ctx, primary, rc)
	if err != nil {
		c.record(ctx, primary, events.ReasonReconcileFailed, events.EventData{Error: err.Error()})
		return res, err
	}
	if hint > 0 && (res.RescheduleAfter == 0 || hint < res.RescheduleAfter) {
		res.RescheduleAfter = hint
	}
	return res, nil
}

// cleanup runs when the primary is marked for deletion. The finalizer is
// removed only once every dependent is gone and the Cleaner is done.
func (c *Controller[P]) cleanup(ctx context.Context, primary P, rc *Context[P]) (reconciler.Result, error) {
	if !controllerutil.ContainsFinalizer(primary, c.finalizer) {
		return reconciler.Result{}, nil
	}

	if c.workflow != nil {
		result := c.workflow.Cleanup(ctx, primary)
		rc.cleanup = result
		if err := result.Errors(); err != nil {
			c.record(ctx, primary, events.ReasonCleanupFailed, events.EventData{
				Nodes: strings.Join(result.ErroredNodes(), ", "),
			})
			return reconciler.Result{}, fmt.Errorf("cleanup of %s failed: %w", rc.Request.ID, err)
		}
		if !result.AllDeleted() {
			after, ok := result.RescheduleAfter()
			if !ok {
				after = DefaultCleanupRecheck
			}
			logging.Debug("Controller", "Dependents of %s not deleted yet (%v), checking again in %v",
				rc.Request.ID, result.NotYetDeletedNodes(), after)
			c.record(ctx, primary, events.ReasonCleanupPending, events.EventData{
				Nodes: strings.Join(result.NotYetDeletedNodes(), ", "),
			})
			return reconciler.RescheduleAfter(after), nil
		}
	}

	if cleaner, ok := c.reconciler.(Cleaner[P]); ok {
		res, err := cleaner.Cleanup(ctx, primary, rc)
		if err != nil {
			return reconciler.Result{}, err
		}
		if res.RescheduleAfter > 0 {
			return res, nil
		}
	}

	if err := c.patchFinalizer(ctx, primary, controllerutil.RemoveFinalizer); err != nil {
		return reconciler.Result{}, fmt.Errorf("failed to remove finalizer: %w", err)
	}
	c.record(ctx, primary, events.ReasonCleanupCompleted, events.EventData{})
	logging.Info("Controller", "Cleaned up %s", rc.Request.ID)
	return reconciler.Result{}, nil
}

// RetriesExhausted implements reconciler.ExhaustionHandler.
func (c *Controller[P]) RetriesExhausted(ctx context.Context, req reconciler.Request, err error) {
	primary, found := c.primary(req.ID)
	if !found {
		return
	}
	c.record(ctx, primary, events.ReasonRetriesExhausted, events.EventData{
		Attempts: req.Retry.Attempt + 1,
		Error:    err.Error(),
	})

	handler, ok := c.reconciler.(ErrorStatusHandler[P])
	if !ok {
		return
	}
	rc := c.newContext(req)
	if updateErr := handler.UpdateErrorStatus(ctx, primary, rc, err); updateErr != nil {
		logging.Error("Controller", updateErr, "Failed to record error status of %s", req.ID)
	}
}

// Trigger queues a reconciliation of id.
func (c *Controller[P]) Trigger(id resource.ID) {
	c.dispatcher.Trigger(id)
}

func (c *Controller[P]) newContext(req reconciler.Request) *Context[P] {
	return &Context[P]{Client: c.client, Request: req, sources: c.sources, recorder: c.recorder}
}

func (c *Controller[P]) record(ctx context.Context, primary P, reason events.EventReason, data events.EventData) {
	data.Controller = c.name
	c.recorder.Record(ctx, primary, reason, data)
}

// changedDependents reports whether the workflow wrote anything.
func changedDependents(result *workflow.ReconcileResult) bool {
	for _, node := range result.Nodes() {
		for _, op := range node.Operations {
			if op != workflow.OperationNoop {
				return true
			}
		}
	}
	return false
}

// primary returns a private copy of the cached primary.
func (c *Controller[P]) primary(id resource.ID) (P, bool) {
	cached, ok := c.lookup(id)
	if !ok {
		return cached, false
	}
	copied, ok := cached.DeepCopyObject().(P)
	return copied, ok
}

func (c *Controller[P]) needsFinalizer() bool {
	if _, ok := c.reconciler.(Cleaner[P]); ok {
		return true
	}
	return c.workflow != nil && c.workflow.HasCleaner()
}

// patchFinalizer applies mutate to the primary's finalizers with a merge
// patch guarded by the resource version.
func (c *Controller[P]) patchFinalizer(ctx context.Context, primary P, mutate func(client.Object, string) bool) error {
	base := primary.DeepCopyObject().(client.Object)
	if !mutate(primary, c.finalizer) {
		return nil
	}
	return c.client.Patch(ctx, primary, client.MergeFromWithOptions(base, client.MergeFromWithOptimisticLock{}))
}
