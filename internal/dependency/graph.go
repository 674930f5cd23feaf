package dependency

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// NodeID is the unique identifier for a node inside a dependency graph.
type NodeID string

// Node is a vertex of the graph together with its direct dependencies.
type Node struct {
	ID        NodeID
	DependsOn []NodeID
	// Order is the insertion index; it breaks ties in sort results.
	Order int
}

// CycleError reports a dependency cycle. Cycle starts and ends with the same node.
type CycleError struct {
	Cycle []NodeID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = string(id)
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, " -> "))
}

// AsCycleError returns the *CycleError wrapped in err, or nil.
func AsCycleError(err error) *CycleError {
	var cycleErr *CycleError
	if errors.As(err, &cycleErr) {
		return cycleErr
	}
	return nil
}

// Graph is a directed acyclic graph where an edge a -> b means a depends on b.
// It is not thread-safe; callers build it once and read it afterwards.
type Graph struct {
	nodes map[NodeID]*Node
	// dependents is the reverse adjacency
	dependents map[NodeID][]NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[NodeID]*Node),
		dependents: make(map[NodeID][]NodeID),
	}
}

// AddNode adds a node without dependencies.
func (g *Graph) AddNode(id NodeID) error {
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("node %q already exists", id)
	}
	g.nodes[id] = &Node{ID: id, Order: len(g.nodes)}
	return nil
}

// AddDependencies records that id depends on each of deps. A missing node, a
// self reference or an edge closing a cycle is rejected and leaves the graph
// unchanged.
func (g *Graph) AddDependencies(id NodeID, deps []NodeID) error {
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node %q does not exist", id)
	}

	var added []NodeID
	for _, dep := range deps {
		if dep == id {
			g.rollback(id, added)
			return fmt.Errorf("node %q cannot depend on itself", id)
		}
		if _, ok := g.nodes[dep]; !ok {
			g.rollback(id, added)
			return fmt.Errorf("node %q depends on unknown node %q", id, dep)
		}
		if slices.Contains(node.DependsOn, dep) {
			continue
		}
		node.DependsOn = append(node.DependsOn, dep)
		g.dependents[dep] = append(g.dependents[dep], id)
		added = append(added, dep)

		if cycle := g.findCycle(); cycle != nil {
			g.rollback(id, added)
			return &CycleError{Cycle: cycle}
		}
	}
	return nil
}

func (g *Graph) rollback(id NodeID, added []NodeID) {
	node := g.nodes[id]
	for _, dep := range added {
		node.DependsOn = slices.DeleteFunc(node.DependsOn, func(d NodeID) bool { return d == dep })
		g.dependents[dep] = slices.DeleteFunc(g.dependents[dep], func(d NodeID) bool { return d == id })
	}
}

// findCycle returns a cycle if the graph has one.
func (g *Graph) findCycle() []NodeID {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[NodeID]int, len(g.nodes))
	var stack []NodeID

	var visit func(id NodeID) []NodeID
	visit = func(id NodeID) []NodeID {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range g.nodes[id].DependsOn {
			switch state[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				cycle := append(slices.Clone(stack[start:]), dep)
				return cycle
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.ordered() {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// ordered returns node ids in insertion order.
func (g *Graph) ordered() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b NodeID) int { return g.nodes[a].Order - g.nodes[b].Order })
	return ids
}

// Has reports whether id is part of the graph.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns every node id in insertion order.
func (g *Graph) Nodes() []NodeID {
	return g.ordered()
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	if n, ok := g.nodes[id]; ok {
		return slices.Clone(n.DependsOn)
	}
	return nil
}

// Dependents returns the nodes that directly depend on id, in insertion order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	res := slices.Clone(g.dependents[id])
	slices.SortFunc(res, func(a, b NodeID) int { return g.nodes[a].Order - g.nodes[b].Order })
	return res
}

// Roots returns the nodes without dependencies.
func (g *Graph) Roots() []NodeID {
	var roots []NodeID
	for _, id := range g.ordered() {
		if len(g.nodes[id].DependsOn) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns the nodes nothing depends on.
func (g *Graph) Leaves() []NodeID {
	var leaves []NodeID
	for _, id := range g.ordered() {
		if len(g.dependents[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// TopologicalSort orders nodes so that every node comes after its
// dependencies. Ties are broken by insertion order, so the result is
// deterministic.
func (g *Graph) TopologicalSort() ([]NodeID, error) {
	levels, err := g.TopologicalSortLevels()
	if err != nil {
		return nil, err
	}
	var order []NodeID
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

// TopologicalSortLevels groups nodes into levels. Nodes of one level only
// depend on nodes of earlier levels and can be processed concurrently.
func (g *Graph) TopologicalSortLevels() ([][]NodeID, error) {
	remaining := make(map[NodeID]int, len(g.nodes))
	for id, n := range g.nodes {
		remaining[id] = len(n.DependsOn)
	}

	var levels [][]NodeID
	var current []NodeID
	for _, id := range g.ordered() {
		if remaining[id] == 0 {
			current = append(current, id)
		}
	}

	visited := 0
	for len(current) > 0 {
		levels = append(levels, current)
		visited += len(current)

		var next []NodeID
		for _, id := range current {
			for _, dependent := range g.dependents[id] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		slices.SortFunc(next, func(a, b NodeID) int { return g.nodes[a].Order - g.nodes[b].Order })
		current = next
	}

	if visited != len(g.nodes) {
		cycle := g.findCycle()
		return nil, &CycleError{Cycle: cycle}
	}
	return levels, nil
}
