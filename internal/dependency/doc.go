// Package dependency provides the directed acyclic graph used to order the
// dependent resources of a workflow.
//
// An edge from a to b means a depends on b: b is reconciled before a and
// deleted after it. Edges that would close a cycle are rejected with a
// *CycleError, so a Graph is acyclic at all times.
//
//	g := dependency.New()
//	_ = g.AddNode("config")
//	_ = g.AddNode("deployment")
//	_ = g.AddDependencies("deployment", []dependency.NodeID{"config"})
//
//	order, _ := g.TopologicalSort()
//	// order: [config deployment]
package dependency
