package core

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// queueSeq orders queue locks globally so Swap never deadlocks.
var queueSeq atomic.Uint64

// ConcurrentQueue is an unbounded FIFO safe for many producers and consumers.
//
// Push never blocks. Pop blocks until an item is available. The *Unsafe
// variants skip locking and are only valid while the caller has exclusive
// access, e.g. on a local snapshot obtained through Swap.
type ConcurrentQueue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *queue.Queue
	seq   uint64
}

func NewConcurrentQueue[T any]() *ConcurrentQueue[T] {
	q := &ConcurrentQueue[T]{
		items: queue.New(),
		seq:   queueSeq.Add(1),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item to the tail and wakes one blocked Pop.
func (q *ConcurrentQueue[T]) Push(item T) {
	q.mu.Lock()
	q.items.Add(item)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until the queue is non-empty, then removes and returns the head.
func (q *ConcurrentQueue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Length() == 0 {
		q.cond.Wait()
	}
	return q.removeLocked()
}

// TryPop removes the head if there is one.
func (q *ConcurrentQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.removeLocked(), true
}

// PopUnsafe removes the head without locking. The queue must not be empty.
func (q *ConcurrentQueue[T]) PopUnsafe() T {
	return q.removeLocked()
}

// IsEmptyUnsafe reports emptiness without locking.
func (q *ConcurrentQueue[T]) IsEmptyUnsafe() bool {
	return q.items.Length() == 0
}

// Swap exchanges the contents of q and other.
func (q *ConcurrentQueue[T]) Swap(other *ConcurrentQueue[T]) {
	if q == other {
		return
	}

	first, second := q, other
	if second.seq < first.seq {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	q.items, other.items = other.items, q.items
	second.mu.Unlock()
	first.mu.Unlock()

	// Either side may have gained items
	q.cond.Broadcast()
	other.cond.Broadcast()
}

func (q *ConcurrentQueue[T]) IsEmpty() bool {
	return q.Len() == 0
}

func (q *ConcurrentQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Clear drops every queued item and releases the references.
func (q *ConcurrentQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = queue.New()
}

func (q *ConcurrentQueue[T]) removeLocked() T {
	v, _ := q.items.Remove().(T)
	return v
}
