package workflow

import (
	"context"
	"errors"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/giantswarm/reconcilekit/internal/dependency"
	"github.com/giantswarm/reconcilekit/internal/waitfor"
)

// Condition is evaluated against the primary. It may block, for example by
// waiting with waitfor; a *waitfor.NotFulfilledError counts as "not met" and
// its reschedule hint is surfaced in the result.
type Condition[P client.Object] func(ctx context.Context, primary P) (bool, error)

// Waiting builds a Condition from a waitfor.Checker constructed per primary.
func Waiting[P client.Object, T any](checker func(primary P) waitfor.Checker[T]) Condition[P] {
	return func(ctx context.Context, primary P) (bool, error) {
		return checker(primary).Condition(ctx)
	}
}

type node[P client.Object] struct {
	name      string
	dependent Dependent[P]
	dependsOn []string

	activation            Condition[P]
	reconcilePrecondition Condition[P]
	readyPostcondition    Condition[P]
	deletePostcondition   Condition[P]
	deleteOnDeactivation  bool
}

// NodeBuilder configures one node of a workflow.
type NodeBuilder[P client.Object] struct {
	node *node[P]
}

// DependsOn declares the nodes that must be reconciled and ready first.
func (nb *NodeBuilder[P]) DependsOn(names ...string) *NodeBuilder[P] {
	nb.node.dependsOn = append(nb.node.dependsOn, names...)
	return nb
}

// ActivationCondition decides whether the node takes part in a cycle at all.
func (nb *NodeBuilder[P]) ActivationCondition(c Condition[P]) *NodeBuilder[P] {
	nb.node.activation = c
	return nb
}

// ReconcilePrecondition decides whether the node's resources are reconciled in
// a cycle. An unmet precondition leaves them untouched.
func (nb *NodeBuilder[P]) ReconcilePrecondition(c Condition[P]) *NodeBuilder[P] {
	nb.node.reconcilePrecondition = c
	return nb
}

// ReadyPostcondition decides whether the reconciled node is ready, which gates
// the nodes depending on it.
func (nb *NodeBuilder[P]) ReadyPostcondition(c Condition[P]) *NodeBuilder[P] {
	nb.node.readyPostcondition = c
	return nb
}

// DeletePostcondition decides whether a deletion has completed.
func (nb *NodeBuilder[P]) DeletePostcondition(c Condition[P]) *NodeBuilder[P] {
	nb.node.deletePostcondition = c
	return nb
}

// DeleteOnDeactivation deletes the node's resources as soon as its activation
// condition stops holding, instead of waiting for the primary's cleanup.
func (nb *NodeBuilder[P]) DeleteOnDeactivation() *NodeBuilder[P] {
	nb.node.deleteOnDeactivation = true
	return nb
}

// Builder assembles a Workflow.
type Builder[P client.Object] struct {
	nodes    []*node[P]
	executor *Executor
}

// NewBuilder returns an empty builder.
func NewBuilder[P client.Object]() *Builder[P] {
	return &Builder[P]{}
}

// Add declares a node. Names must be unique within the workflow.
func (b *Builder[P]) Add(name string, dependent Dependent[P]) *NodeBuilder[P] {
	n := &node[P]{name: name, dependent: dependent}
	b.nodes = append(b.nodes, n)
	return &NodeBuilder[P]{node: n}
}

// WithExecutor runs the workflow on a shared executor. Without one the
// workflow gets its own with DefaultConcurrency.
func (b *Builder[P]) WithExecutor(e *Executor) *Builder[P] {
	b.executor = e
	return b
}

// Build validates the declared nodes and returns the workflow.
func (b *Builder[P]) Build() (*Workflow[P], error) {
	graph := dependency.New()
	nodes := make(map[string]*node[P], len(b.nodes))

	for _, n := range b.nodes {
		if n.name == "" {
			return nil, errors.New("workflow node name must not be empty")
		}
		if n.dependent == nil {
			return nil, fmt.Errorf("workflow node %q has no dependent", n.name)
		}
		if err := graph.AddNode(dependency.NodeID(n.name)); err != nil {
			return nil, fmt.Errorf("invalid workflow: %w", err)
		}
		nodes[n.name] = n
	}

	for _, n := range b.nodes {
		deps := make([]dependency.NodeID, len(n.dependsOn))
		for i, name := range n.dependsOn {
			deps[i] = dependency.NodeID(name)
		}
		if err := graph.AddDependencies(dependency.NodeID(n.name), deps); err != nil {
			return nil, fmt.Errorf("invalid workflow: %w", err)
		}
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	executor := b.executor
	if executor == nil {
		executor = NewExecutor(DefaultConcurrency)
	}

	return &Workflow[P]{
		graph:    graph,
		nodes:    nodes,
		order:    order,
		executor: executor,
	}, nil
}
