package workflow

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds an Executor created without an explicit size.
const DefaultConcurrency = 10

// Executor bounds how many workflow nodes run at once. It is shared by every
// workflow built with it, so blocking condition checks never run on the
// dispatcher's workers and never exceed the executor's size.
type Executor struct {
	sem  *semaphore.Weighted
	size int64
}

// NewExecutor creates an executor running at most size nodes concurrently.
func NewExecutor(size int64) *Executor {
	if size <= 0 {
		size = DefaultConcurrency
	}
	return &Executor{sem: semaphore.NewWeighted(size), size: size}
}

// Size returns the executor's concurrency limit.
func (e *Executor) Size() int64 { return e.size }

// Run waits for a free slot and runs fn in the calling goroutine. It fails
// without running fn when ctx ends first.
func (e *Executor) Run(ctx context.Context, fn func()) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	fn()
	return nil
}
