// Package reconciler dispatches events to reconciliations of primary
// resources.
//
// # Overview
//
// A Dispatcher receives event.Events from an event.Manager and runs a
// Handler for the primary each event names. It guarantees:
//
//   - At most one execution per primary at any time. Executions of
//     different primaries run concurrently on WorkerCount workers.
//   - Coalescing: events arriving while a primary is queued or running
//     collapse into a single follow-up execution, which re-reads current
//     state.
//   - Generation filtering: with GenerationAware set, primary events for a
//     generation that already reconciled successfully are dropped, unless
//     the event bypasses the filter or the primary is being deleted.
//   - Retries: a failed execution is retried with exponential backoff
//     according to RetryConfig. On exhaustion the handler's
//     ExhaustionHandler, if any, is told once.
//   - Rescheduling: a Result with RescheduleAfter set, or
//     MaxReconciliationInterval after a success, schedules the next
//     execution through the Scheduler (usually a source.Timer).
//
// # Usage
//
//	timer := source.NewTimer("apps-timer")
//	dispatcher := reconciler.NewDispatcher(reconciler.Config{
//	    Name:            "apps",
//	    WorkerCount:     4,
//	    GenerationAware: true,
//	}, handler, timer)
//	if err := dispatcher.Start(ctx); err != nil {
//	    return fmt.Errorf("failed to start dispatcher: %w", err)
//	}
//	defer dispatcher.Stop(shutdownCtx)
//
// Every execution gets a correlation id for its log lines. Metrics, when
// configured, are exported through Prometheus and summarized in memory.
package reconciler
