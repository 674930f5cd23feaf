package workflow

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// NodeState is the outcome of one node in one reconcile or cleanup cycle.
type NodeState string

const (
	// StatePending means the node did not run because a node it waits on is
	// not done.
	StatePending NodeState = "pending"

	StateReconciled NodeState = "reconciled"
	// StateSkipped means the reconcile precondition did not hold.
	StateSkipped NodeState = "skipped"
	// StateInactive means the activation condition did not hold.
	StateInactive NodeState = "inactive"
	// StateNotReady means the node was reconciled but its ready postcondition
	// did not hold.
	StateNotReady NodeState = "notReady"
	StateErrored  NodeState = "errored"

	StateDeleted       NodeState = "deleted"
	StateAlreadyGone   NodeState = "alreadyGone"
	StateNotYetDeleted NodeState = "notYetDeleted"
)

// NodeResult is what happened to one node.
type NodeResult struct {
	Name  string
	State NodeState
	// Operations holds the per-resource operations of a reconciled node.
	Operations map[string]Operation
	Err        error
	// RescheduleAfter is set when a condition timed out waiting and asked for
	// a later re-run.
	RescheduleAfter time.Duration
}

type results struct {
	order []string
	nodes map[string]NodeResult
}

// Result returns the outcome of the named node.
func (r *results) Result(name string) (NodeResult, bool) {
	res, ok := r.nodes[name]
	return res, ok
}

// Nodes returns every node result in topological order.
func (r *results) Nodes() []NodeResult {
	out := make([]NodeResult, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.nodes[name])
	}
	return out
}

func (r *results) inState(states ...NodeState) []string {
	var names []string
	for _, name := range r.order {
		for _, s := range states {
			if r.nodes[name].State == s {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// ErroredNodes returns the names of the nodes that failed.
func (r *results) ErroredNodes() []string {
	return r.inState(StateErrored)
}

// Errors aggregates the errors of all failed nodes, or returns nil.
func (r *results) Errors() error {
	var errs []error
	for _, name := range r.order {
		if err := r.nodes[name].Err; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

// RescheduleAfter returns the shortest reschedule hint of any node.
func (r *results) RescheduleAfter() (time.Duration, bool) {
	var shortest time.Duration
	for _, res := range r.nodes {
		if res.RescheduleAfter > 0 && (shortest == 0 || res.RescheduleAfter < shortest) {
			shortest = res.RescheduleAfter
		}
	}
	return shortest, shortest > 0
}

// ReconcileResult is the outcome of Workflow.Reconcile.
type ReconcileResult struct {
	results
}

// AllDependentsReady reports whether no node is pending, not ready or errored.
func (r *ReconcileResult) AllDependentsReady() bool {
	return len(r.inState(StatePending, StateNotReady, StateErrored)) == 0
}

// NotReadyNodes returns the nodes whose ready postcondition did not hold.
func (r *ReconcileResult) NotReadyNodes() []string {
	return r.inState(StateNotReady)
}

// PendingNodes returns the nodes that were blocked by another node.
func (r *ReconcileResult) PendingNodes() []string {
	return r.inState(StatePending)
}

// CleanupResult is the outcome of Workflow.Cleanup.
type CleanupResult struct {
	results
}

// AllDeleted reports whether every node is deleted or was already gone.
func (r *CleanupResult) AllDeleted() bool {
	return len(r.inState(StateDeleted, StateAlreadyGone)) == len(r.order)
}

// NotYetDeletedNodes returns the nodes whose delete postcondition did not hold.
func (r *CleanupResult) NotYetDeletedNodes() []string {
	return r.inState(StateNotYetDeleted)
}

// PendingNodes returns the nodes blocked behind a node that is not gone yet.
func (r *CleanupResult) PendingNodes() []string {
	return r.inState(StatePending)
}
