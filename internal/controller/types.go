package controller

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/events"
	"github.com/giantswarm/reconcilekit/internal/reconciler"
	"github.com/giantswarm/reconcilekit/internal/workflow"
)

// Reconciler holds the business logic for a primary type. It is called after
// the managed workflow reconciled without errors, with a private copy of the
// primary it may modify.
type Reconciler[P client.Object] interface {
	Reconcile(ctx context.Context, primary P, rc *Context[P]) (reconciler.Result, error)
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc[P client.Object] func(ctx context.Context, primary P, rc *Context[P]) (reconciler.Result, error)

// Reconcile calls f.
func (f ReconcilerFunc[P]) Reconcile(ctx context.Context, primary P, rc *Context[P]) (reconciler.Result, error) {
	return f(ctx, primary, rc)
}

// Cleaner is implemented by reconcilers that release external state when a
// primary is deleted. Returning a Result with RescheduleAfter set means the
// cleanup is not complete yet and the finalizer stays.
type Cleaner[P client.Object] interface {
	Cleanup(ctx context.Context, primary P, rc *Context[P]) (reconciler.Result, error)
}

// ErrorStatusHandler is implemented by reconcilers that record failures on
// the primary, for example in its status. It is called once when retries for
// a primary are exhausted.
type ErrorStatusHandler[P client.Object] interface {
	UpdateErrorStatus(ctx context.Context, primary P, rc *Context[P], err error) error
}

// Context gives a reconciler access to the state around one execution.
type Context[P client.Object] struct {
	Client  client.Client
	Request reconciler.Request

	sources   *event.Manager
	recorder  *events.Recorder
	reconcile *workflow.ReconcileResult
	cleanup   *workflow.CleanupResult
}

// Retry reports which attempt this execution is.
func (c *Context[P]) Retry() reconciler.RetryInfo {
	return c.Request.Retry
}

// WorkflowResult returns the outcome of the managed workflow's reconcile, if
// one ran.
func (c *Context[P]) WorkflowResult() (*workflow.ReconcileResult, bool) {
	return c.reconcile, c.reconcile != nil
}

// CleanupResult returns the outcome of the managed workflow's cleanup, if one
// ran.
func (c *Context[P]) CleanupResult() (*workflow.CleanupResult, bool) {
	return c.cleanup, c.cleanup != nil
}

// Record creates a Kubernetes Event on primary. It does nothing when the
// controller has no recorder.
func (c *Context[P]) Record(ctx context.Context, primary P, reason events.EventReason, data events.EventData) {
	c.recorder.Record(ctx, primary, reason, data)
}

// EventSource returns a source registered with the controller.
func (c *Context[P]) EventSource(name string) (event.Source, bool) {
	return c.sources.Source(name)
}
