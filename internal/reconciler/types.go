package reconciler

import (
	"context"
	"time"

	"github.com/giantswarm/reconcilekit/internal/resource"
)

// Request identifies one reconciliation execution.
type Request struct {
	// ID is the primary resource to reconcile.
	ID resource.ID

	// Retry describes where this execution sits in the retry sequence.
	Retry RetryInfo

	// CorrelationID is unique per execution and is meant for log correlation.
	CorrelationID string
}

// RetryInfo is handed to every execution.
type RetryInfo struct {
	// Attempt is 0 for a regular execution and n for the n-th retry.
	Attempt int

	// LastAttempt is true when a failure of this execution exhausts retries.
	LastAttempt bool
}

// IsRetry reports whether the execution is a retry of a failed one.
func (r RetryInfo) IsRetry() bool {
	return r.Attempt > 0
}

// Result is the outcome of a successful reconciliation.
type Result struct {
	// RescheduleAfter re-runs the reconciliation after the delay. Zero means
	// no explicit reschedule.
	RescheduleAfter time.Duration
	// Forget drops the dispatcher's state for the ID as if its primary had
	// been deleted. No follow-up is scheduled.
	Forget bool
}

// RescheduleAfter returns a Result requesting a re-run after d.
func RescheduleAfter(d time.Duration) Result {
	return Result{RescheduleAfter: d}
}

// Handler executes reconciliations. The dispatcher guarantees that Reconcile
// is never called concurrently for the same ID.
type Handler interface {
	Reconcile(ctx context.Context, req Request) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Result, error)

// Reconcile calls f.
func (f HandlerFunc) Reconcile(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// ExhaustionHandler is implemented by handlers that want to know when an ID
// ran out of retries. It is called once per exhausted retry sequence.
type ExhaustionHandler interface {
	RetriesExhausted(ctx context.Context, req Request, err error)
}

// Scheduler delivers a timer event for an ID after a delay. source.Timer
// implements it.
type Scheduler interface {
	ScheduleOnce(id resource.ID, delay time.Duration)
	Cancel(id resource.ID)
}

// RateLimit allows at most Limit executions per Period for each ID.
type RateLimit struct {
	Limit  int
	Period time.Duration
}

// Config holds configuration for a Dispatcher.
type Config struct {
	// Name identifies the dispatcher in logs and metrics.
	Name string

	// WorkerCount is the number of concurrent reconciliation workers.
	// Defaults to 2 if not specified.
	WorkerCount int

	// GenerationAware suppresses primary events whose generation was already
	// reconciled successfully.
	GenerationAware bool

	// ReconcileTimeout bounds a single execution. Defaults to 30 seconds.
	ReconcileTimeout time.Duration

	// MaxReconciliationInterval re-runs a successful reconciliation that did
	// not ask for a reschedule. Zero disables it.
	MaxReconciliationInterval time.Duration

	// Retry configures retries of failed executions.
	Retry RetryConfig

	// RateLimit is optional.
	RateLimit *RateLimit

	// Metrics is optional.
	Metrics *Metrics
}

// Status represents the current status of reconciliation for a resource.
type Status struct {
	// ID is the primary resource.
	ID resource.ID

	// LastReconcileTime is when the resource was last successfully reconciled.
	LastReconcileTime *time.Time

	// LastError is the most recent error, if any.
	LastError string

	// RetryCount is the number of consecutive failed executions.
	RetryCount int

	// State describes the current reconciliation state.
	State State
}

// State represents the state of a resource's reconciliation.
type State string

const (
	// StatePending means the resource is awaiting reconciliation.
	StatePending State = "Pending"

	// StateReconciling means reconciliation is in progress.
	StateReconciling State = "Reconciling"

	// StateSynced means the resource is successfully reconciled.
	StateSynced State = "Synced"

	// StateError means reconciliation failed and will be retried.
	StateError State = "Error"

	// StateFailed means reconciliation failed permanently (retries exhausted).
	StateFailed State = "Failed"
)
