package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testScore struct{ points int }

type testQuit struct{ reason string }

type scoreBoard struct{ total int }

func (s *scoreBoard) Handle(m testScore) { s.total += m.points }

// TestBus_FanOut verifies every subscriber receives each broadcast
// Given: Two subscribers for the same message type
// When: A message is broadcast
// Then: Both are called once, in subscription order
func TestBus_FanOut(t *testing.T) {
	// Arrange
	b := NewBus()
	var calls []string
	Subscribe(b, func(m testScore) { calls = append(calls, "first") })
	Subscribe(b, func(m testScore) { calls = append(calls, "second") })

	// Act
	n := Broadcast(b, testScore{points: 5})

	// Assert
	if n != 2 {
		t.Errorf("Broadcast() = %d, want 2", n)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("calls = %v, want [first second]", calls)
	}
}

// TestBus_Unsubscribe verifies removal by token
// Given: Two subscribers
// When: One is unsubscribed and a message is broadcast
// Then: Only the remaining subscriber is called and a second removal reports false
func TestBus_Unsubscribe(t *testing.T) {
	// Arrange
	b := NewBus()
	var first, second int
	sub := Subscribe(b, func(m testScore) { first++ })
	Subscribe(b, func(m testScore) { second++ })

	// Act
	removed := b.Unsubscribe(sub)
	Broadcast(b, testScore{})

	// Assert
	if !removed {
		t.Error("Unsubscribe() = false, want true")
	}
	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d, want 0, 1", first, second)
	}
	if b.Unsubscribe(sub) {
		t.Error("second Unsubscribe() = true, want false")
	}
	if b.Unsubscribe(Subscription{}) {
		t.Error("Unsubscribe(zero) = true, want false")
	}
	if NumHandlers[testScore](b) != 1 {
		t.Errorf("NumHandlers() = %d, want 1", NumHandlers[testScore](b))
	}
}

// TestBus_DuplicateSubscribeDeliversTwice verifies each Subscribe is distinct
func TestBus_DuplicateSubscribeDeliversTwice(t *testing.T) {
	b := NewBus()
	calls := 0
	fn := func(m testScore) { calls++ }
	a := Subscribe(b, fn)
	c := Subscribe(b, fn)

	Broadcast(b, testScore{})
	b.Unsubscribe(a)
	Broadcast(b, testScore{})

	if a.ID() == c.ID() {
		t.Error("duplicate subscriptions share an ID")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestBus_TypesAreIsolated verifies subscribers only see their message type
func TestBus_TypesAreIsolated(t *testing.T) {
	b := NewBus()
	var scores, quits int
	Subscribe(b, func(m testScore) { scores++ })
	Subscribe(b, func(m testQuit) { quits++ })

	Broadcast(b, testQuit{reason: "escape"})

	if scores != 0 || quits != 1 {
		t.Errorf("scores = %d, quits = %d, want 0, 1", scores, quits)
	}
	if n := Broadcast(b, 42); n != 0 {
		t.Errorf("Broadcast(unsubscribed type) = %d, want 0", n)
	}
}

// TestBus_SubscribeHandler verifies handler objects are supported
func TestBus_SubscribeHandler(t *testing.T) {
	b := NewBus()
	board := &scoreBoard{}
	SubscribeHandler[testScore](b, board)

	Broadcast(b, testScore{points: 10})
	Broadcast(b, testScore{points: 15})

	if board.total != 25 {
		t.Errorf("total = %d, want 25", board.total)
	}
}

// TestBus_UnsubscribeAll verifies a whole type can be cleared
func TestBus_UnsubscribeAll(t *testing.T) {
	b := NewBus()
	Subscribe(b, func(m testScore) {})
	Subscribe(b, func(m testScore) {})
	Subscribe(b, func(m testQuit) {})

	UnsubscribeAll[testScore](b)
	UnsubscribeAll[int](b)

	if NumHandlers[testScore](b) != 0 {
		t.Errorf("NumHandlers[testScore] = %d, want 0", NumHandlers[testScore](b))
	}
	if NumHandlers[testQuit](b) != 1 {
		t.Errorf("NumHandlers[testQuit] = %d, want 1", NumHandlers[testQuit](b))
	}
}

// TestBus_SnapshotIsolation verifies changes during delivery apply next time
// Given: A subscriber that unsubscribes another and adds a new one while handling
// When: A message is broadcast twice
// Then: The first broadcast still reaches the removed subscriber and not the
// new one; the second broadcast reflects both changes
func TestBus_SnapshotIsolation(t *testing.T) {
	// Arrange
	b := NewBus()
	var removedCalls, addedCalls int
	var victim Subscription
	once := false

	Subscribe(b, func(m testScore) {
		if once {
			return
		}
		once = true
		b.Unsubscribe(victim)
		Subscribe(b, func(m testScore) { addedCalls++ })
	})
	victim = Subscribe(b, func(m testScore) { removedCalls++ })

	// Act
	first := Broadcast(b, testScore{})
	second := Broadcast(b, testScore{})

	// Assert
	if first != 2 || removedCalls != 1 || addedCalls != 1 {
		t.Errorf("first = %d, removedCalls = %d, addedCalls = %d, want 2, 1, 1",
			first, removedCalls, addedCalls)
	}
	if second != 2 {
		t.Errorf("second = %d, want 2", second)
	}
}

// TestBus_PanickingSubscriberPropagates verifies panics leave Broadcast
func TestBus_PanickingSubscriberPropagates(t *testing.T) {
	b := NewBus()
	reached := false
	Subscribe(b, func(m testScore) { panic("bad handler") })
	Subscribe(b, func(m testScore) { reached = true })

	defer func() {
		if r := recover(); r == nil {
			t.Error("Broadcast() did not propagate the panic")
		}
		if reached {
			t.Error("handler after the panicking one was called")
		}
	}()
	Broadcast(b, testScore{})
}

// TestBus_BroadcastInsideTaskIsContained verifies the task layer catches
// subscriber panics
func TestBus_BroadcastInsideTaskIsContained(t *testing.T) {
	b := NewBus()
	p, _ := newTestProcessor(1)
	Subscribe(b, func(m testScore) { panic("bad handler") })
	runProcessor(t, p)

	p.AddWork(func(ctx context.Context) { Broadcast(b, testScore{}) })

	waitFor(t, time.Second, func() bool { return p.Stats().Panicked == 1 })
	if !p.IsRunning() {
		t.Error("processor stopped after subscriber panic")
	}
}

// TestBus_ConcurrentUse verifies concurrent subscribe, broadcast and removal
func TestBus_ConcurrentUse(t *testing.T) {
	b := NewBus()
	var delivered atomic.Int64

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				sub := Subscribe(b, func(m testScore) { delivered.Add(1) })
				Broadcast(b, testScore{points: 1})
				b.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()

	if NumHandlers[testScore](b) != 0 {
		t.Errorf("NumHandlers() = %d, want 0", NumHandlers[testScore](b))
	}
	if delivered.Load() < 800 {
		t.Errorf("delivered = %d, want >= 800", delivered.Load())
	}
}

// TestBus_Stats verifies subscriber counts per type
func TestBus_Stats(t *testing.T) {
	b := NewBus()
	Subscribe(b, func(m testScore) {})
	Subscribe(b, func(m testScore) {})
	Subscribe(b, func(m testQuit) {})
	Broadcast(b, testQuit{})

	stats := b.Stats()

	if stats.MessageTypes != 2 {
		t.Errorf("MessageTypes = %d, want 2", stats.MessageTypes)
	}
	if stats.Subscribers["core.testScore"] != 2 || stats.Subscribers["core.testQuit"] != 1 {
		t.Errorf("Subscribers = %v", stats.Subscribers)
	}
	if stats.Broadcasts != 1 {
		t.Errorf("Broadcasts = %d, want 1", stats.Broadcasts)
	}
}

type broadcastRecorder struct {
	NilMetrics
	mu    sync.Mutex
	calls map[string]int
}

func (r *broadcastRecorder) RecordBroadcast(messageType string, deliveries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[messageType] += deliveries
}

// TestBus_Metrics verifies deliveries are reported per message type
func TestBus_Metrics(t *testing.T) {
	rec := &broadcastRecorder{calls: map[string]int{}}
	b := NewBusWithMetrics(rec)
	Subscribe(b, func(m testScore) {})
	Subscribe(b, func(m testScore) {})

	Broadcast(b, testScore{})
	Broadcast(b, testScore{})

	if rec.calls["core.testScore"] != 4 {
		t.Errorf("deliveries = %d, want 4", rec.calls["core.testScore"])
	}
}
