package reconciler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/giantswarm/reconcilekit/internal/event"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// minRateLimitDelay is the shortest deferral of a rate-limited execution.
const minRateLimitDelay = time.Second

// Dispatcher turns events into reconciliation executions.
//
// It manages:
//   - A work queue that coalesces events per ID
//   - A worker pool that never runs the same ID twice at once
//   - Retry with exponential backoff, reschedules and periodic re-runs
//   - Generation-aware filtering and per-ID rate limiting
type Dispatcher struct {
	mu sync.RWMutex

	config Config

	handler   Handler
	scheduler Scheduler

	queue *workQueue

	// entries holds the per-ID retry and generation state
	entries map[resource.ID]*entry

	// statusTracker tracks reconciliation status for each resource
	statusTracker map[resource.ID]*Status

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

type entry struct {
	// failures counts consecutive failed executions
	failures int
	lastErr  error

	// generation is the latest generation seen in a primary event
	generation int64
	// reconciledGeneration is the generation of the last successful execution
	reconciledGeneration int64
	reconciled           bool
	markedForDeletion    bool

	limiter *rate.Limiter
}

// NewDispatcher creates a dispatcher that runs handler for incoming events.
// Retries and reschedules are delivered through scheduler.
func NewDispatcher(config Config, handler Handler, scheduler Scheduler) *Dispatcher {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 2
	}
	if config.ReconcileTimeout <= 0 {
		config.ReconcileTimeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "default"
	}
	config.Retry = config.Retry.withDefaults()

	return &Dispatcher{
		config:        config,
		handler:       handler,
		scheduler:     scheduler,
		queue:         newWorkQueue(),
		entries:       make(map[resource.ID]*entry),
		statusTracker: make(map[resource.ID]*Status),
	}
}

// Start launches the worker pool. Events received before Start stay queued.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	d.ctx, d.cancelFunc = context.WithCancel(ctx)
	d.running = true

	for i := 0; i < d.config.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	logging.Info("Dispatcher", "Started %s with %d workers", d.config.Name, d.config.WorkerCount)
	return nil
}

// HandleEvent implements event.Handler. It only updates bookkeeping and
// queues the ID, so it never blocks on a reconciliation.
func (d *Dispatcher) HandleEvent(e event.Event) {
	if d.config.Metrics != nil {
		d.config.Metrics.RecordEvent(d.config.Name, e.Kind.String())
	}

	if e.Kind == event.KindPrimary && e.Deleted {
		d.forget(e.ID)
		return
	}

	if e.Kind == event.KindPrimary && e.Object != nil && !d.accept(e) {
		logging.Debug("Dispatcher", "Skipping event for %s: generation %d already reconciled",
			e.ID, e.Object.GetGeneration())
		return
	}

	logging.Debug("Dispatcher", "Handling %s event for %s from %s", e.Kind, e.ID, e.Source)

	d.markPending(e.ID)
	d.queue.Add(e.ID)
	d.recordQueueDepth()
}

// accept records the generation carried by a primary event and reports
// whether the event warrants an execution.
func (d *Dispatcher) accept(e event.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	en := d.entryLocked(e.ID)
	generation := e.Object.GetGeneration()
	marked := resource.IsMarkedForDeletion(e.Object)

	en.generation = generation
	en.markedForDeletion = marked

	if !d.config.GenerationAware || e.BypassGenerationFilter || marked {
		return true
	}
	return !en.reconciled || generation == 0 || generation != en.reconciledGeneration
}

// Trigger queues an execution for id regardless of generation filtering.
func (d *Dispatcher) Trigger(id resource.ID) {
	d.HandleEvent(event.Event{ID: id, Kind: event.KindTimer, BypassGenerationFilter: true, Source: "manual"})
}

// forget drops every trace of a deleted primary. An execution still running
// for id finds its entry gone and leaves no state or timer behind.
func (d *Dispatcher) forget(id resource.ID) {
	d.mu.Lock()
	delete(d.entries, id)
	delete(d.statusTracker, id)
	d.mu.Unlock()

	// Outcome handlers schedule under d.mu after checking the entry, so any
	// timer armed before the delete above is cancelled here.
	if d.scheduler != nil {
		d.scheduler.Cancel(id)
	}
	d.queue.Forget(id)

	d.recordQueueDepth()
	logging.Debug("Dispatcher", "Dropped state of deleted resource %s", id)
}

// liveLocked reports whether en is still the state of id, which it is not
// once the primary was deleted during the execution that holds en.
func (d *Dispatcher) liveLocked(id resource.ID, en *entry) bool {
	return d.entries[id] == en
}

func (d *Dispatcher) entryLocked(id resource.ID) *entry {
	en, ok := d.entries[id]
	if !ok {
		en = &entry{}
		if rl := d.config.RateLimit; rl != nil && rl.Limit > 0 && rl.Period > 0 {
			en.limiter = rate.NewLimiter(rate.Every(rl.Period/time.Duration(rl.Limit)), rl.Limit)
		}
		d.entries[id] = en
	}
	return en
}

// worker processes reconciliation requests from the queue.
func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()

	logging.Debug("Dispatcher", "Worker %d of %s started", n, d.config.Name)

	for {
		id, ok := d.queue.Get(d.ctx)
		if !ok {
			logging.Debug("Dispatcher", "Worker %d of %s shutting down", n, d.config.Name)
			return
		}

		d.process(id)
		d.queue.Done(id)
		d.recordQueueDepth()
	}
}

// process handles a single execution for id.
func (d *Dispatcher) process(id resource.ID) {
	d.mu.Lock()
	en := d.entryLocked(id)
	failures := en.failures
	generation := en.generation
	limiter := en.limiter
	d.mu.Unlock()

	if limiter != nil {
		reservation := limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			d.mu.Lock()
			if d.liveLocked(id, en) {
				d.schedule(id, max(delay, minRateLimitDelay))
			}
			d.mu.Unlock()
			logging.Debug("Dispatcher", "Rate limited %s, deferring for %v", id, max(delay, minRateLimitDelay))
			return
		}
	}

	// This execution supersedes any pending timer; its outcome schedules the next.
	if d.scheduler != nil {
		d.scheduler.Cancel(id)
	}

	req := Request{
		ID:            id,
		Retry:         d.config.Retry.info(failures),
		CorrelationID: uuid.NewString(),
	}

	d.mu.Lock()
	if !d.liveLocked(id, en) {
		d.mu.Unlock()
		return
	}
	d.updateStatusLocked(id, StateReconciling, "")
	d.mu.Unlock()
	if d.config.Metrics != nil {
		d.config.Metrics.RecordStart(d.config.Name)
	}

	logging.Debug("Dispatcher", "Reconciling %s (attempt %d, correlation %s)", id, req.Retry.Attempt, req.CorrelationID)

	ctx, cancel := context.WithTimeout(d.ctx, d.config.ReconcileTimeout)
	defer cancel()

	started := time.Now()
	result, err := d.invoke(ctx, req)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("reconciliation timed out after %v", d.config.ReconcileTimeout)
	}

	if d.config.Metrics != nil {
		d.config.Metrics.RecordResult(d.config.Name, time.Since(started), err)
	}

	if d.ctx.Err() != nil {
		// Shutting down; no follow-up is scheduled.
		return
	}

	if err != nil {
		d.handleReconcileError(req, en, err)
		return
	}
	d.handleSuccess(req, en, result, generation)
}

// invoke runs the handler, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, req Request) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Dispatcher", fmt.Errorf("%v", r), "Reconciler panicked for %s: %s", req.ID, debug.Stack())
			result, err = Result{}, fmt.Errorf("reconciler panicked: %v", r)
		}
	}()
	return d.handler.Reconcile(ctx, req)
}

// handleReconcileError handles a failed execution.
func (d *Dispatcher) handleReconcileError(req Request, en *entry, err error) {
	logging.Warn("Dispatcher", "Reconciliation failed for %s (correlation %s): %v", req.ID, req.CorrelationID, err)

	d.mu.Lock()
	if !d.liveLocked(req.ID, en) {
		d.mu.Unlock()
		logging.Debug("Dispatcher", "Not retrying %s: primary was deleted", req.ID)
		return
	}
	en.failures++
	en.lastErr = err
	failures := en.failures
	exhausted := d.config.Retry.Exhausted(failures)
	if exhausted {
		// The next event starts a new retry sequence.
		en.failures = 0
		d.updateStatusLocked(req.ID, StateFailed, err.Error())
		d.mu.Unlock()

		logging.Error("Dispatcher", err, "Retries exhausted for %s", req.ID)
		if d.config.Metrics != nil {
			d.config.Metrics.RecordExhausted(d.config.Name, req.ID.String())
		}
		if h, ok := d.handler.(ExhaustionHandler); ok {
			ctx, cancel := context.WithTimeout(d.ctx, d.config.ReconcileTimeout)
			defer cancel()
			h.RetriesExhausted(ctx, req, err)
		}
		return
	}

	d.updateStatusLocked(req.ID, StateError, err.Error())
	backoff := d.config.Retry.Delay(failures)
	d.schedule(req.ID, backoff)
	d.mu.Unlock()

	logging.Debug("Dispatcher", "Retrying %s after %v (retry %d)", req.ID, backoff, failures)
}

// handleSuccess handles a successful execution.
func (d *Dispatcher) handleSuccess(req Request, en *entry, result Result, generation int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if result.Forget {
		// An event that arrived during the execution still gets its run.
		if d.liveLocked(req.ID, en) && !d.queue.Pending(req.ID) {
			delete(d.entries, req.ID)
			delete(d.statusTracker, req.ID)
			logging.Debug("Dispatcher", "Dropped state of %s on request", req.ID)
		}
		return
	}

	if !d.liveLocked(req.ID, en) {
		logging.Debug("Dispatcher", "Not rescheduling %s: primary was deleted", req.ID)
		return
	}
	en.failures = 0
	en.lastErr = nil
	en.reconciled = true
	en.reconciledGeneration = generation
	d.updateStatusLocked(req.ID, StateSynced, "")

	switch {
	case result.RescheduleAfter > 0:
		d.schedule(req.ID, result.RescheduleAfter)
		logging.Debug("Dispatcher", "Rescheduling %s after %v", req.ID, result.RescheduleAfter)
	case d.config.MaxReconciliationInterval > 0:
		d.schedule(req.ID, d.config.MaxReconciliationInterval)
	default:
		logging.Debug("Dispatcher", "Successfully reconciled %s", req.ID)
	}
}

func (d *Dispatcher) schedule(id resource.ID, delay time.Duration) {
	if d.scheduler == nil {
		logging.Warn("Dispatcher", "No scheduler configured, dropping re-run of %s", id)
		return
	}
	d.scheduler.ScheduleOnce(id, delay)
}

// markPending moves an idle resource to Pending. Resources being reconciled
// keep their state.
func (d *Dispatcher) markPending(id resource.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if status, ok := d.statusTracker[id]; ok && status.State == StateReconciling {
		return
	}
	d.updateStatusLocked(id, StatePending, "")
}

// updateStatus updates the reconciliation status for a resource.
func (d *Dispatcher) updateStatus(id resource.ID, state State, errMsg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateStatusLocked(id, state, errMsg)
}

func (d *Dispatcher) updateStatusLocked(id resource.ID, state State, errMsg string) {
	status, ok := d.statusTracker[id]
	if !ok {
		status = &Status{ID: id}
		d.statusTracker[id] = status
	}

	status.State = state
	if state != StatePending {
		status.LastError = errMsg
	}

	switch state {
	case StateSynced:
		now := time.Now()
		status.LastReconcileTime = &now
		status.RetryCount = 0
	case StateError, StateFailed:
		status.RetryCount++
	}
}

func (d *Dispatcher) recordQueueDepth() {
	if d.config.Metrics != nil {
		d.config.Metrics.SetQueueDepth(d.config.Name, d.queue.Len())
	}
}

// Stop stops accepting work and waits for in-flight executions until ctx
// ends. Executions still running then are cancelled and abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	logging.Info("Dispatcher", "Stopping %s...", d.config.Name)

	if dropped := d.queue.Shutdown(); dropped > 0 {
		logging.Info("Dispatcher", "Dropped %d queued resources of %s", dropped, d.config.Name)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelFunc()
		logging.Info("Dispatcher", "Dispatcher %s stopped", d.config.Name)
		return nil
	case <-ctx.Done():
		d.cancelFunc()
		logging.Warn("Dispatcher", "Abandoning in-flight reconciliations of %s", d.config.Name)
		return fmt.Errorf("dispatcher %s did not drain in time: %w", d.config.Name, ctx.Err())
	}
}

// Status returns the reconciliation status for a resource.
func (d *Dispatcher) Status(id resource.ID) (Status, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status, ok := d.statusTracker[id]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

// Statuses returns all reconciliation statuses.
func (d *Dispatcher) Statuses() []Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	statuses := make([]Status, 0, len(d.statusTracker))
	for _, status := range d.statusTracker {
		statuses = append(statuses, *status)
	}
	return statuses
}

// IsRunning returns whether the dispatcher is running.
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// QueueLength returns the current queue length.
func (d *Dispatcher) QueueLength() int {
	return d.queue.Len()
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string {
	return d.config.Name
}
