package reconciler

import (
	"context"
	"sync"

	"github.com/giantswarm/reconcilekit/internal/resource"
)

// workQueue holds the IDs awaiting reconciliation. An ID is in at most one of
// three places: queued, processing, or processing and dirty. Adding an ID that
// is processing marks it dirty, and Done re-queues it exactly once.
type workQueue struct {
	mu sync.Mutex

	// queue holds ids in FIFO order
	queue []resource.ID

	// queued mirrors queue for membership checks
	queued map[resource.ID]bool

	// processing tracks ids currently being processed
	processing map[resource.ID]bool

	// dirty tracks ids that changed while being processed
	dirty map[resource.ID]bool

	// cond is used for blocking Get operations
	cond *sync.Cond

	// shuttingDown indicates the queue is stopping
	shuttingDown bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		queue:      make([]resource.ID, 0),
		queued:     make(map[resource.ID]bool),
		processing: make(map[resource.ID]bool),
		dirty:      make(map[resource.ID]bool),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add queues id unless it is already queued. It never blocks.
func (q *workQueue) Add(id resource.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	if q.processing[id] {
		q.dirty[id] = true
		return
	}
	if q.queued[id] {
		return
	}

	q.queue = append(q.queue, id)
	q.queued[id] = true
	q.cond.Signal()
}

// Get retrieves the next id, blocking until one is available, the context is
// cancelled or the queue shuts down.
func (q *workQueue) Get(ctx context.Context) (resource.ID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		select {
		case <-ctx.Done():
			return resource.ID{}, false
		default:
		}

		// Wake the cond when the context ends. Closing done releases the
		// goroutine after a normal wakeup.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		select {
		case <-ctx.Done():
			return resource.ID{}, false
		default:
		}
	}

	if q.shuttingDown {
		return resource.ID{}, false
	}

	id := q.queue[0]
	q.queue = q.queue[1:]
	delete(q.queued, id)
	q.processing[id] = true

	return id, true
}

// Done marks id as processed and re-queues it if it turned dirty meanwhile.
func (q *workQueue) Done(id resource.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, id)

	if q.dirty[id] {
		delete(q.dirty, id)
		if q.shuttingDown || q.queued[id] {
			return
		}
		q.queue = append(q.queue, id)
		q.queued[id] = true
		q.cond.Signal()
	}
}

// Forget drops id from the queue and clears its dirty mark. An execution in
// progress is not affected.
func (q *workQueue) Forget(id resource.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.dirty, id)
	if !q.queued[id] {
		return
	}
	delete(q.queued, id)
	for i, queued := range q.queue {
		if queued == id {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			break
		}
	}
}

// Len returns the number of queued ids.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Pending reports whether id is queued or marked for another run.
func (q *workQueue) Pending(id resource.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[id] || q.dirty[id]
}

// Processing reports whether id is currently being processed.
func (q *workQueue) Processing(id resource.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing[id]
}

// Shutdown stops the queue. Queued ids are dropped and blocked Get calls
// return. It returns the number of dropped ids.
func (q *workQueue) Shutdown() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.queue)
	q.shuttingDown = true
	q.queue = nil
	q.queued = make(map[resource.ID]bool)
	q.dirty = make(map[resource.ID]bool)
	q.cond.Broadcast()
	return dropped
}
