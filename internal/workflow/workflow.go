package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/dependency"
	"github.com/giantswarm/reconcilekit/internal/resource"
	"github.com/giantswarm/reconcilekit/internal/waitfor"
	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// Workflow is an immutable DAG of dependents. It is safe to run for many
// primaries concurrently; callers keep a single primary's runs serialized.
type Workflow[P client.Object] struct {
	graph    *dependency.Graph
	nodes    map[string]*node[P]
	order    []dependency.NodeID
	executor *Executor
}

// Nodes returns the node names in topological order.
func (w *Workflow[P]) Nodes() []string {
	names := make([]string, len(w.order))
	for i, id := range w.order {
		names[i] = string(id)
	}
	return names
}

// Dependent returns the dependent of the named node.
func (w *Workflow[P]) Dependent(name string) (Dependent[P], bool) {
	n, ok := w.nodes[name]
	if !ok {
		return nil, false
	}
	return n.dependent, true
}

// HasCleaner reports whether any node deletes its resources explicitly.
func (w *Workflow[P]) HasCleaner() bool {
	for _, n := range w.nodes {
		if n.dependent.Deletable() || n.deletePostcondition != nil {
			return true
		}
	}
	return false
}

// Reconcile reconciles every node whose dependencies are reconciled and ready,
// skipped or inactive. Nodes behind an errored or not ready node stay pending.
func (w *Workflow[P]) Reconcile(ctx context.Context, primary P) *ReconcileResult {
	start := time.Now()
	visit := func(ctx context.Context, n *node[P]) NodeResult {
		return w.reconcileNode(ctx, n, primary)
	}
	unblocks := func(res NodeResult) bool {
		switch res.State {
		case StateReconciled, StateSkipped, StateInactive:
			return true
		}
		return false
	}

	result := &ReconcileResult{results: w.run(ctx, w.graph.Dependencies, w.graph.Dependents, visit, unblocks)}
	logging.Debug("Workflow", "Reconciled %d dependent(s) of %s in %v, ready: %v",
		len(result.order), resource.FromObject(primary), time.Since(start), result.AllDependentsReady())
	return result
}

// Cleanup deletes the nodes in reverse dependency order: a node is deleted
// only after every node depending on it is deleted or already gone.
func (w *Workflow[P]) Cleanup(ctx context.Context, primary P) *CleanupResult {
	start := time.Now()
	visit := func(ctx context.Context, n *node[P]) NodeResult {
		return w.cleanupNode(ctx, n, primary)
	}
	unblocks := func(res NodeResult) bool {
		return res.State == StateDeleted || res.State == StateAlreadyGone
	}

	result := &CleanupResult{results: w.run(ctx, w.graph.Dependents, w.graph.Dependencies, visit, unblocks)}
	logging.Debug("Workflow", "Cleaned up %d dependent(s) of %s in %v, complete: %v",
		len(result.order), resource.FromObject(primary), time.Since(start), result.AllDeleted())
	return result
}

// run visits the nodes on the executor. A node starts once every node returned
// by waitsOn has finished in a state accepted by unblocks; wakes returns the
// nodes to reconsider when a node finishes.
func (w *Workflow[P]) run(
	ctx context.Context,
	waitsOn, wakes func(dependency.NodeID) []dependency.NodeID,
	visit func(context.Context, *node[P]) NodeResult,
	unblocks func(NodeResult) bool,
) results {
	remaining := make(map[dependency.NodeID]int, len(w.order))
	done := make(chan NodeResult, len(w.order))
	out := results{
		order: w.Nodes(),
		nodes: make(map[string]NodeResult, len(w.order)),
	}

	inFlight := 0
	launch := func(n *node[P]) {
		inFlight++
		go func() {
			var res NodeResult
			if err := w.executor.Run(ctx, func() { res = w.visitSafely(ctx, n, visit) }); err != nil {
				res = NodeResult{Name: n.name, State: StateErrored, Err: err}
			}
			done <- res
		}()
	}

	for _, id := range w.order {
		remaining[id] = len(waitsOn(id))
	}
	for _, id := range w.order {
		if remaining[id] == 0 {
			launch(w.nodes[string(id)])
		}
	}

	for inFlight > 0 {
		res := <-done
		inFlight--
		out.nodes[res.Name] = res
		if !unblocks(res) {
			continue
		}
		for _, next := range wakes(dependency.NodeID(res.Name)) {
			remaining[next]--
			if remaining[next] == 0 {
				launch(w.nodes[string(next)])
			}
		}
	}

	for _, name := range out.order {
		if _, ok := out.nodes[name]; !ok {
			out.nodes[name] = NodeResult{Name: name, State: StatePending}
		}
	}
	return out
}

func (w *Workflow[P]) visitSafely(ctx context.Context, n *node[P], visit func(context.Context, *node[P]) NodeResult) (res NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Workflow", nil, "Panic in workflow node %s: %v\n%s", n.name, r, debug.Stack())
			res = NodeResult{Name: n.name, State: StateErrored, Err: fmt.Errorf("panic in node %s: %v", n.name, r)}
		}
	}()
	return visit(ctx, n)
}

func (w *Workflow[P]) reconcileNode(ctx context.Context, n *node[P], primary P) NodeResult {
	res := NodeResult{Name: n.name}

	active, hint, err := evaluate(ctx, n.activation, primary)
	if err != nil {
		return res.failed(fmt.Errorf("activation condition: %w", err))
	}
	if !active {
		res.State = StateInactive
		res.RescheduleAfter = hint
		if n.deleteOnDeactivation && n.dependent.Deletable() {
			if _, err := n.dependent.Delete(ctx, primary); err != nil {
				return res.failed(fmt.Errorf("delete inactive dependent: %w", err))
			}
		}
		return res
	}

	ok, hint, err := evaluate(ctx, n.reconcilePrecondition, primary)
	if err != nil {
		return res.failed(fmt.Errorf("reconcile precondition: %w", err))
	}
	if !ok {
		res.State = StateSkipped
		res.RescheduleAfter = hint
		return res
	}

	ops, err := n.dependent.Reconcile(ctx, primary)
	res.Operations = ops
	if err != nil {
		return res.failed(err)
	}

	ready, hint, err := evaluate(ctx, n.readyPostcondition, primary)
	if err != nil {
		return res.failed(fmt.Errorf("ready postcondition: %w", err))
	}
	if !ready {
		res.State = StateNotReady
		res.RescheduleAfter = hint
		return res
	}

	res.State = StateReconciled
	return res
}

func (w *Workflow[P]) cleanupNode(ctx context.Context, n *node[P], primary P) NodeResult {
	res := NodeResult{Name: n.name}

	if n.dependent.Deletable() {
		existed, err := n.dependent.Delete(ctx, primary)
		if err != nil {
			return res.failed(err)
		}
		if !existed {
			res.State = StateAlreadyGone
			return res
		}
	}

	deleted, hint, err := evaluate(ctx, n.deletePostcondition, primary)
	if err != nil {
		return res.failed(fmt.Errorf("delete postcondition: %w", err))
	}
	if !deleted {
		res.State = StateNotYetDeleted
		res.RescheduleAfter = hint
		return res
	}

	res.State = StateDeleted
	return res
}

func (r NodeResult) failed(err error) NodeResult {
	r.State = StateErrored
	r.Err = err
	return r
}

// evaluate runs a condition. A missing condition holds. A timed out wait does
// not hold and yields the wait's reschedule hint.
func evaluate[P client.Object](ctx context.Context, c Condition[P], primary P) (bool, time.Duration, error) {
	if c == nil {
		return true, 0, nil
	}
	ok, err := c(ctx, primary)
	if nfe, notFulfilled := waitfor.IsNotFulfilled(err); notFulfilled {
		return false, nfe.Result().RescheduleAfter, nil
	}
	if err != nil {
		return false, 0, err
	}
	return ok, 0, nil
}
