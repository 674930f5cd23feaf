// Package logging provides the structured logger used throughout reconcilekit.
//
// It is built on Go's slog package. Every entry carries a subsystem attribute
// naming the component that produced it (Dispatcher, EventSourceManager,
// PollingSource, Workflow, ...), and errors are attached as an "error" attribute.
//
// # Usage
//
//	logging.Init(logging.Options{Level: logging.LevelInfo, Format: logging.FormatJSON})
//
//	logging.Info("Dispatcher", "Started with %d workers", n)
//	logging.Error("PollingSource", err, "Fetch failed for %s", id)
//
// Init also installs a go-logr bridge on controller-runtime, so informer and
// client diagnostics are written through the same handler. Code that needs a
// logr.Logger directly can call Logr(subsystem).
package logging
