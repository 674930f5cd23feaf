package dependency

import (
	"reflect"
	"testing"
)

func buildGraph(t *testing.T, nodes []NodeID, edges map[NodeID][]NodeID) *Graph {
	t.Helper()
	g := New()
	for _, id := range nodes {
		if err := g.AddNode(id); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	for _, id := range nodes {
		if deps, ok := edges[id]; ok {
			if err := g.AddDependencies(id, deps); err != nil {
				t.Fatalf("AddDependencies(%s): %v", id, err)
			}
		}
	}
	return g
}

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("New() returned nil")
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty graph, got %d nodes", g.Len())
	}
}

func TestAddNode(t *testing.T) {
	g := New()
	if err := g.AddNode("a"); err != nil {
		t.Fatalf("failed to add node: %v", err)
	}
	if err := g.AddNode("a"); err == nil {
		t.Error("expected error when adding duplicate node")
	}
	if !g.Has("a") || g.Len() != 1 {
		t.Errorf("expected exactly node a, got %v", g.Nodes())
	}
}

func TestAddDependencies(t *testing.T) {
	tests := []struct {
		name    string
		id      NodeID
		deps    []NodeID
		wantErr bool
		cycle   bool
	}{
		{name: "valid edge", id: "b", deps: []NodeID{"a"}},
		{name: "unknown node", id: "x", deps: []NodeID{"a"}, wantErr: true},
		{name: "unknown dependency", id: "b", deps: []NodeID{"x"}, wantErr: true},
		{name: "self reference", id: "a", deps: []NodeID{"a"}, wantErr: true},
		{name: "cycle", id: "a", deps: []NodeID{"c"}, wantErr: true, cycle: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, []NodeID{"a", "b", "c"}, map[NodeID][]NodeID{"c": {"b"}, "b": {"a"}})

			err := g.AddDependencies(tt.id, tt.deps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddDependencies() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.cycle && AsCycleError(err) == nil {
				t.Fatalf("expected a *CycleError, got %T", err)
			}
			if err != nil {
				// Rejected edges leave the graph untouched.
				if _, sortErr := g.TopologicalSort(); sortErr != nil {
					t.Errorf("graph corrupted after rejected edge: %v", sortErr)
				}
			}
		})
	}
}

func TestCycleError(t *testing.T) {
	g := buildGraph(t, []NodeID{"a", "b", "c"}, map[NodeID][]NodeID{"b": {"a"}, "c": {"b"}})

	err := g.AddDependencies("a", []NodeID{"c"})
	cycleErr := AsCycleError(err)
	if cycleErr == nil {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if len(cycleErr.Cycle) != 4 || cycleErr.Cycle[0] != cycleErr.Cycle[3] {
		t.Errorf("expected closed cycle of three nodes, got %v", cycleErr.Cycle)
	}
	if got := g.Dependencies("a"); len(got) != 0 {
		t.Errorf("expected rollback of a's dependencies, got %v", got)
	}
}

func TestDependenciesAndDependents(t *testing.T) {
	g := buildGraph(t, []NodeID{"config", "secret", "deployment", "service"}, map[NodeID][]NodeID{
		"deployment": {"config", "secret"},
		"service":    {"deployment"},
	})

	if got, want := g.Dependencies("deployment"), []NodeID{"config", "secret"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Dependencies() = %v, want %v", got, want)
	}
	if got, want := g.Dependents("config"), []NodeID{"deployment"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Dependents() = %v, want %v", got, want)
	}
	if got, want := g.Roots(), []NodeID{"config", "secret"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Roots() = %v, want %v", got, want)
	}
	if got, want := g.Leaves(), []NodeID{"service"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Leaves() = %v, want %v", got, want)
	}
	if got := g.Dependencies("missing"); got != nil {
		t.Errorf("expected nil for unknown node, got %v", got)
	}
}

func TestTopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		nodes []NodeID
		edges map[NodeID][]NodeID
		want  []NodeID
	}{
		{
			name:  "independent nodes keep insertion order",
			nodes: []NodeID{"c", "a", "b"},
			want:  []NodeID{"c", "a", "b"},
		},
		{
			name:  "chain",
			nodes: []NodeID{"c", "b", "a"},
			edges: map[NodeID][]NodeID{"c": {"b"}, "b": {"a"}},
			want:  []NodeID{"a", "b", "c"},
		},
		{
			name:  "diamond",
			nodes: []NodeID{"top", "left", "right", "bottom"},
			edges: map[NodeID][]NodeID{"left": {"top"}, "right": {"top"}, "bottom": {"left", "right"}},
			want:  []NodeID{"top", "left", "right", "bottom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, tt.nodes, tt.edges)
			got, err := g.TopologicalSort()
			if err != nil {
				t.Fatalf("TopologicalSort() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TopologicalSort() = %v, want %v", got, tt.want)
			}
			checkValidOrder(t, g, got)
		})
	}
}

func checkValidOrder(t *testing.T, g *Graph, order []NodeID) {
	t.Helper()
	position := make(map[NodeID]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	for _, id := range order {
		for _, dep := range g.Dependencies(id) {
			if position[dep] >= position[id] {
				t.Errorf("%s sorted before its dependency %s", id, dep)
			}
		}
	}
}

func TestTopologicalSortLevels(t *testing.T) {
	g := buildGraph(t, []NodeID{"top", "left", "right", "bottom"}, map[NodeID][]NodeID{
		"left": {"top"}, "right": {"top"}, "bottom": {"left", "right"},
	})

	levels, err := g.TopologicalSortLevels()
	if err != nil {
		t.Fatalf("TopologicalSortLevels() error: %v", err)
	}
	want := [][]NodeID{{"top"}, {"left", "right"}, {"bottom"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("TopologicalSortLevels() = %v, want %v", levels, want)
	}
}
