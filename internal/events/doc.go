// Package events records Kubernetes Events for controller lifecycle
// transitions of primary resources, so they show up in
// `kubectl describe` and `kubectl get events`.
//
// A Recorder renders a message for each EventReason from a template and
// creates a corev1.Event referencing the primary:
//
//	recorder := events.NewRecorder(k8sClient, "apps-controller")
//	recorder.Record(ctx, app, events.ReasonRetriesExhausted, events.EventData{Error: err.Error()})
//
// A nil *Recorder records nothing, so controllers can hold one
// unconditionally. Failures to create an Event are logged, never returned:
// events are informational and must not fail a reconciliation.
package events
