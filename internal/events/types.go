package events

// EventType represents the type/severity of a Kubernetes Event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason represents the reason code for an event.
type EventReason string

// Reconciliation event reasons
const (
	// ReasonFinalizerAdded indicates the controller took ownership of the
	// primary's deletion.
	ReasonFinalizerAdded EventReason = "FinalizerAdded"

	// ReasonDependentsReady indicates every dependent resource was reconciled
	// and is ready.
	ReasonDependentsReady EventReason = "DependentsReady"

	// ReasonWorkflowFailed indicates one or more dependent resources failed
	// to reconcile.
	ReasonWorkflowFailed EventReason = "WorkflowFailed"

	// ReasonReconcileFailed indicates the reconciler returned an error.
	ReasonReconcileFailed EventReason = "ReconcileFailed"

	// ReasonRetriesExhausted indicates the controller gave up retrying.
	ReasonRetriesExhausted EventReason = "RetriesExhausted"
)

// Cleanup event reasons
const (
	// ReasonCleanupPending indicates dependents are still being deleted.
	ReasonCleanupPending EventReason = "CleanupPending"

	// ReasonCleanupFailed indicates deleting dependents failed.
	ReasonCleanupFailed EventReason = "CleanupFailed"

	// ReasonCleanupCompleted indicates the finalizer was removed.
	ReasonCleanupCompleted EventReason = "CleanupCompleted"
)

// EventData holds contextual information for event message templating.
type EventData struct {
	// Name is the name of the primary.
	Name string

	// Namespace is the namespace of the primary.
	Namespace string

	// Controller is the name of the controller recording the event.
	Controller string

	// Nodes lists the workflow nodes the event is about, comma separated.
	Nodes string

	// Error contains error information for failure events.
	Error string

	// Attempts is the number of failed executions.
	Attempts int
}

// getEventType returns the appropriate EventType for a given EventReason.
func getEventType(reason EventReason) EventType {
	switch reason {
	case ReasonWorkflowFailed,
		ReasonReconcileFailed,
		ReasonRetriesExhausted,
		ReasonCleanupFailed:
		return EventTypeWarning
	default:
		return EventTypeNormal
	}
}
