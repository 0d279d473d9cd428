package crawler

import (
	"context"
	"sync"
)

// workQueue is an unbounded FIFO shared by a worker pool. It tracks how many
// consumers are busy with an item and whether producers outside the pool may
// still push. Dequeue blocks while the queue is empty and more work can
// still arrive, so idle workers never poll.
type workQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	active int
	sealed bool
	closed bool
}

// newWorkQueue returns a queue. A sealed queue is only fed by its own
// consumers.
func newWorkQueue[T any](sealed bool) *workQueue[T] {
	q := &workQueue[T]{sealed: sealed}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends items and wakes waiting consumers.
func (q *workQueue[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Dequeue returns the next item and counts the caller as active until it
// calls Done. It returns false once the queue is empty, sealed and no
// consumer is active, or after Close.
func (q *workQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed && (q.active > 0 || !q.sealed) {
		q.cond.Wait()
	}

	var zero T
	if q.closed || len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.active++
	return item, true
}

// Done marks one dequeued item as finished.
func (q *workQueue[T]) Done() {
	q.mu.Lock()
	q.active--
	idle := q.active == 0
	q.mu.Unlock()

	if idle {
		q.cond.Broadcast()
	}
}

// Seal declares that no producer outside the pool will push again.
func (q *workQueue[T]) Seal() {
	q.mu.Lock()
	q.sealed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Close wakes every consumer and makes Dequeue return false.
func (q *workQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// CloseOnDone closes the queue when ctx is cancelled. The returned function
// unregisters the hook.
func (q *workQueue[T]) CloseOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, q.Close)
}

// Len returns the number of queued items.
func (q *workQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Active returns the number of consumers busy with an item.
func (q *workQueue[T]) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}
