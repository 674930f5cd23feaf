// Package controller wires event sources, a dispatcher and a workflow of
// dependents into a controller for one primary resource type.
//
// A Controller watches its primaries through an informer, retries and
// reschedules through a timer source, and runs the user's Reconciler once the
// managed workflow succeeded. When a primary is marked for deletion the
// workflow is cleaned up in reverse order, the optional Cleaner runs, and only
// then is the controller's finalizer removed.
package controller
