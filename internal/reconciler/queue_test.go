package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/reconcilekit/internal/resource"
)

func TestWorkQueue_AddAndGet(t *testing.T) {
	q := newWorkQueue()
	id := resource.NewID("test-server", "default")

	q.Add(id)

	if q.Len() != 1 {
		t.Errorf("expected queue length 1, got %d", q.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, ok := q.Get(ctx)
	if !ok {
		t.Fatal("expected to get item from queue")
	}
	if got != id {
		t.Errorf("got unexpected id: %v", got)
	}
	if !q.Processing(id) {
		t.Error("expected id to be processing")
	}

	q.Done(got)
	if q.Processing(id) {
		t.Error("expected id to be done")
	}
}

func TestWorkQueue_Deduplication(t *testing.T) {
	q := newWorkQueue()
	id := resource.NewID("test-server", "default")

	q.Add(id)
	q.Add(id)
	q.Add(id)

	if q.Len() != 1 {
		t.Errorf("expected queue length 1 after deduplication, got %d", q.Len())
	}
}

func TestWorkQueue_DirtyWhileProcessing(t *testing.T) {
	q := newWorkQueue()
	id := resource.NewID("test-server", "default")
	ctx := context.Background()

	q.Add(id)
	got, _ := q.Get(ctx)

	// Changes during processing collapse into a single re-queue.
	q.Add(id)
	q.Add(id)
	if q.Len() != 0 {
		t.Errorf("expected nothing queued while processing, got %d", q.Len())
	}

	q.Done(got)
	if q.Len() != 1 {
		t.Errorf("expected exactly one re-queue after Done, got %d", q.Len())
	}

	got, _ = q.Get(ctx)
	q.Done(got)
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestWorkQueue_FIFO(t *testing.T) {
	q := newWorkQueue()
	ids := []resource.ID{resource.NewID("a", ""), resource.NewID("b", ""), resource.NewID("c", "")}
	for _, id := range ids {
		q.Add(id)
	}

	for _, want := range ids {
		got, ok := q.Get(context.Background())
		if !ok || got != want {
			t.Fatalf("expected %v, got %v", want, got)
		}
		q.Done(got)
	}
}

func TestWorkQueue_Forget(t *testing.T) {
	q := newWorkQueue()
	a, b := resource.NewID("a", ""), resource.NewID("b", "")
	q.Add(a)
	q.Add(b)

	q.Forget(a)
	if q.Len() != 1 {
		t.Fatalf("expected one queued id, got %d", q.Len())
	}
	got, _ := q.Get(context.Background())
	if got != b {
		t.Errorf("expected %v, got %v", b, got)
	}

	// Forgetting a processing id clears its dirty mark.
	q.Add(b)
	q.Forget(b)
	q.Done(b)
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestWorkQueue_GetBlocksUntilContextCancelled(t *testing.T) {
	q := newWorkQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := q.Get(ctx)
	if ok {
		t.Error("expected Get to fail on cancelled context")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("expected Get to block until the context ended")
	}
}

func TestWorkQueue_Shutdown(t *testing.T) {
	q := newWorkQueue()
	q.Add(resource.NewID("queued", ""))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Drain the queued id, then block.
		id, _ := q.Get(context.Background())
		q.Done(id)
		if _, ok := q.Get(context.Background()); ok {
			t.Error("expected Get to return false after shutdown")
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()
	wg.Wait()

	q.Add(resource.NewID("late", ""))
	if q.Len() != 0 {
		t.Errorf("expected adds after shutdown to be ignored, got %d", q.Len())
	}
}

func TestWorkQueue_ShutdownDropsQueued(t *testing.T) {
	q := newWorkQueue()
	q.Add(resource.NewID("a", ""))
	q.Add(resource.NewID("b", ""))

	if dropped := q.Shutdown(); dropped != 2 {
		t.Errorf("expected 2 dropped ids, got %d", dropped)
	}
	if _, ok := q.Get(context.Background()); ok {
		t.Error("expected Get to return false after shutdown")
	}
}
