// Package workflow reconciles and cleans up the dependent resources of a
// primary resource.
//
// A Workflow is a DAG of named nodes, each wrapping a Dependent. Reconcile
// walks the graph from the roots: a node runs once every node it depends on
// is reconciled and ready, skipped or inactive, and independent branches run
// concurrently on a shared Executor. Cleanup walks the graph in reverse and
// deletes a node only after everything depending on it is gone.
//
// Conditions gate every node:
//
//   - the activation condition decides whether the node takes part at all
//   - the reconcile precondition decides whether it is reconciled this time
//   - the ready postcondition decides whether its dependents may proceed
//   - the delete postcondition decides whether its deletion has completed
//
// A failing node only blocks the nodes that depend on it. The results report
// per-node outcomes and aggregate errors and reschedule hints.
//
//	b := workflow.NewBuilder[*v1.MyApp]()
//	b.Add("config", configMaps)
//	b.Add("deployment", deployments).
//	    DependsOn("config").
//	    ReadyPostcondition(deploymentAvailable)
//	wf, err := b.Build()
package workflow
