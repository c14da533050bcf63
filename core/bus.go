package core

import (
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// Handler receives messages of type M. Any value with a Handle(M) method can
// be subscribed with SubscribeHandler.
type Handler[M any] interface {
	Handle(msg M)
}

// Subscription identifies one registered handler. It is returned by
// Subscribe and is the only way to remove that handler again.
// The zero value is not attached to anything.
type Subscription struct {
	id  uint64
	key reflect.Type
}

// ID returns the unique identifier of the subscription within its Bus.
func (s Subscription) ID() uint64 { return s.id }

// Valid reports whether s was returned by Subscribe.
func (s Subscription) Valid() bool { return s.key != nil }

// =============================================================================
// Bus
// =============================================================================

// Bus is a publish/subscribe registry with one subscriber list per message
// type. Messages are delivered synchronously on the goroutine that calls
// Broadcast.
//
// Use the package level generic functions to work with it:
//
//	sub := core.Subscribe(bus, func(m OnKeyPress) { ... })
//	core.Broadcast(bus, OnKeyPress{Rune: 'a'})
//	bus.Unsubscribe(sub)
type Bus struct {
	mu         sync.RWMutex
	queues     map[reflect.Type]subscriberList
	nextID     atomic.Uint64
	broadcasts atomic.Int64
	metrics    Metrics
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return NewBusWithMetrics(nil)
}

// NewBusWithMetrics creates an empty bus that reports every Broadcast to m.
func NewBusWithMetrics(m Metrics) *Bus {
	if m == nil {
		m = &NilMetrics{}
	}
	return &Bus{
		queues:  make(map[reflect.Type]subscriberList),
		metrics: m,
	}
}

// Unsubscribe removes the handler registered under sub. It reports false if
// the handler was already removed or sub is the zero value.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	if !sub.Valid() {
		return false
	}

	b.mu.RLock()
	q, ok := b.queues[sub.key]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return q.remove(sub.id)
}

// Stats returns the subscriber count of every message type seen so far.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		MessageTypes: len(b.queues),
		Subscribers:  make(map[string]int, len(b.queues)),
		Broadcasts:   b.broadcasts.Load(),
	}
	for key, q := range b.queues {
		stats.Subscribers[key.String()] = q.len()
	}
	return stats
}

// =============================================================================
// Generic API
// =============================================================================

// Subscribe registers fn for messages of type M. Each call creates a distinct
// subscription, so subscribing the same function twice delivers twice.
func Subscribe[M any](b *Bus, fn func(M)) Subscription {
	q := queueFor[M](b, true)
	id := b.nextID.Add(1)
	q.add(id, fn)
	return Subscription{id: id, key: reflect.TypeFor[M]()}
}

// SubscribeHandler registers h.Handle for messages of type M.
func SubscribeHandler[M any](b *Bus, h Handler[M]) Subscription {
	return Subscribe(b, h.Handle)
}

// UnsubscribeAll drops every handler for messages of type M.
func UnsubscribeAll[M any](b *Bus) {
	if q := queueFor[M](b, false); q != nil {
		q.clear()
	}
}

// NumHandlers returns the number of handlers for messages of type M.
func NumHandlers[M any](b *Bus) int {
	if q := queueFor[M](b, false); q != nil {
		return q.len()
	}
	return 0
}

// Broadcast delivers msg to every current subscriber of type M, in
// subscription order, and returns how many were called.
//
// The subscriber list is copied under lock and the lock released before any
// handler runs. Handlers may therefore subscribe, unsubscribe or broadcast
// again; such changes apply to the next Broadcast only. A panicking handler
// propagates out of Broadcast and the remaining handlers are skipped.
func Broadcast[M any](b *Bus, msg M) int {
	b.broadcasts.Add(1)

	q := queueFor[M](b, false)
	if q == nil {
		b.metrics.RecordBroadcast(reflect.TypeFor[M]().String(), 0)
		return 0
	}

	handlers := q.snapshot()
	for _, h := range handlers {
		h.fn(msg)
	}
	b.metrics.RecordBroadcast(q.name, len(handlers))
	return len(handlers)
}

func queueFor[M any](b *Bus, create bool) *channelQueue[M] {
	key := reflect.TypeFor[M]()

	b.mu.RLock()
	q, ok := b.queues[key]
	b.mu.RUnlock()
	if ok {
		return q.(*channelQueue[M])
	}
	if !create {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok = b.queues[key]; ok {
		return q.(*channelQueue[M])
	}
	cq := &channelQueue[M]{name: key.String()}
	b.queues[key] = cq
	return cq
}

// =============================================================================
// channelQueue: subscriber list of one message type
// =============================================================================

type subscriberList interface {
	remove(id uint64) bool
	clear()
	len() int
}

type subscriber[M any] struct {
	id uint64
	fn func(M)
}

type channelQueue[M any] struct {
	name     string
	mu       sync.Mutex
	handlers []subscriber[M]
}

func (q *channelQueue[M]) add(id uint64, fn func(M)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, subscriber[M]{id: id, fn: fn})
}

func (q *channelQueue[M]) remove(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.IndexFunc(q.handlers, func(s subscriber[M]) bool { return s.id == id })
	if i < 0 {
		return false
	}
	q.handlers = slices.Delete(q.handlers, i, i+1)
	return true
}

func (q *channelQueue[M]) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = nil
}

func (q *channelQueue[M]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.handlers)
}

func (q *channelQueue[M]) snapshot() []subscriber[M] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.handlers)
}
