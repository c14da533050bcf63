package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestTaskProcessor_RepeatingCounterStopsAtTen verifies the end-to-end scenario
// Given: A processor with 2 workers and a repeating foreground task that
// increments an atomic counter and calls Stop when it reaches 10
// When: Start is called on the test goroutine
// Then: Start returns and the counter is exactly 10
func TestTaskProcessor_RepeatingCounterStopsAtTen(t *testing.T) {
	// Arrange
	p, _ := newTestProcessor(2)
	defer p.Close()
	var counter atomic.Int32
	p.AddRepeatingWork(func(ctx context.Context) {
		if counter.Add(1) == 10 {
			p.Stop()
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Act
	err := p.Start(ctx)

	// Assert
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Start() returned only after the timeout")
	}
	if got := counter.Load(); got != 10 {
		t.Errorf("counter = %d, want 10", got)
	}
}

// TestTaskProcessor_StopDrainsCurrentFrame verifies the frame snapshot is
// always run to completion
// Given: A stopping task followed by a reply task and a repeating task in
// the same frame
// When: Start is called
// Then: Both later tasks still run with a live context, and the repeating
// task does not run a second time
func TestTaskProcessor_StopDrainsCurrentFrame(t *testing.T) {
	// Arrange
	p, _ := newTestProcessor(1)
	defer p.Close()
	var replied, interrupted bool
	repeats := 0
	p.AddWork(func(ctx context.Context) { p.Stop() })
	p.AddWork(func(ctx context.Context) {
		replied = true
		interrupted = ctx.Err() != nil
	})
	p.AddRepeatingWork(func(ctx context.Context) { repeats++ })

	// Act
	err := p.Start(context.Background())

	// Assert
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !replied {
		t.Error("task queued after Stop in the same frame did not run")
	}
	if interrupted {
		t.Error("drained task saw a cancelled context")
	}
	if repeats != 1 {
		t.Errorf("repeating task ran %d times, want 1", repeats)
	}
	if got := p.Stats().Executed; got != 3 {
		t.Errorf("Executed = %d, want 3", got)
	}
}

// TestTaskProcessor_WorkerCountDefaults verifies worker count resolution
func TestTaskProcessor_WorkerCountDefaults(t *testing.T) {
	if got := NewTaskProcessor(0).WorkerCount(); got != runtime.NumCPU() {
		t.Errorf("WorkerCount() = %d, want %d", got, runtime.NumCPU())
	}
	if got := NewTaskProcessor(-3).WorkerCount(); got < 1 {
		t.Errorf("WorkerCount() = %d, want >= 1", got)
	}
	if got := NewTaskProcessor(3).WorkerCount(); got != 3 {
		t.Errorf("WorkerCount() = %d, want 3", got)
	}
}

// TestTaskProcessor_DefaultID verifies a generated ID when none is configured
func TestTaskProcessor_DefaultID(t *testing.T) {
	a := NewTaskProcessor(1)
	b := NewTaskProcessor(1)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("IDs = %q, %q, want distinct non-empty", a.ID(), b.ID())
	}
}

// TestTaskProcessor_StartTwice verifies the state machine rejects restarts
// Given: A running processor
// When: Start is called again, and again after it stopped
// Then: ErrProcessorStarted then ErrProcessorStopped is returned
func TestTaskProcessor_StartTwice(t *testing.T) {
	// Arrange
	p, _ := newTestProcessor(1)
	done := runProcessor(t, p)
	waitFor(t, time.Second, p.IsRunning)

	// Act & Assert
	if err := p.Start(context.Background()); !errors.Is(err, ErrProcessorStarted) {
		t.Errorf("second Start() error = %v, want ErrProcessorStarted", err)
	}

	p.Close()
	if err := waitDone(t, done, time.Second); err != nil {
		t.Errorf("first Start() error = %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrProcessorStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrProcessorStopped", err)
	}
}

// TestTaskProcessor_StopBeforeStart verifies stopping a constructed processor
func TestTaskProcessor_StopBeforeStart(t *testing.T) {
	p, _ := newTestProcessor(2)

	p.Close()

	if err := p.Start(context.Background()); !errors.Is(err, ErrProcessorStopped) {
		t.Errorf("Start() error = %v, want ErrProcessorStopped", err)
	}
}

// TestTaskProcessor_StopIsIdempotent verifies repeated and concurrent Stop calls
// Given: A running processor with 4 workers
// When: Stop is called many times from several goroutines
// Then: Start returns and every worker is joined
func TestTaskProcessor_StopIsIdempotent(t *testing.T) {
	// Arrange
	p, _ := newTestProcessor(4)
	done := runProcessor(t, p)
	waitFor(t, time.Second, p.IsRunning)

	// Act
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Stop()
			p.Stop()
		}()
	}
	wg.Wait()

	// Assert
	if err := waitDone(t, done, time.Second); err != nil {
		t.Errorf("Start() error = %v", err)
	}
	joined := make(chan struct{})
	go func() { p.Wait(); close(joined) }()
	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("workers were not joined after Stop")
	}
	if p.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

// TestTaskProcessor_BackgroundWork verifies workers drain the background queue
func TestTaskProcessor_BackgroundWork(t *testing.T) {
	// Arrange
	p, _ := newTestProcessor(4)
	var counter atomic.Int32
	for range 100 {
		p.AddBackgroundWork(func(ctx context.Context) { counter.Add(1) })
	}

	// Act
	runProcessor(t, p)

	// Assert
	waitFor(t, 2*time.Second, func() bool { return counter.Load() == 100 })
}

// TestTaskProcessor_RepeatingBackgroundWork verifies background re-enqueue
func TestTaskProcessor_RepeatingBackgroundWork(t *testing.T) {
	p, _ := newTestProcessor(2)
	var counter atomic.Int32
	p.AddRepeatingBackgroundWork(func(ctx context.Context) { counter.Add(1) })

	runProcessor(t, p)

	waitFor(t, 2*time.Second, func() bool { return counter.Load() >= 50 })
}

// TestTaskProcessor_MainQueueFIFO verifies foreground tasks keep submission order
// Given: 50 one-shot main tasks appending their index
// When: The processor runs them
// Then: The recorded order matches submission order
func TestTaskProcessor_MainQueueFIFO(t *testing.T) {
	// Arrange
	p, _ := newTestProcessor(1)
	var order []int
	for i := range 50 {
		p.Add(func(ctx context.Context) { order = append(order, i) }, false, false)
	}
	p.Add(func(ctx context.Context) { p.Stop() }, false, false)

	// Act
	waitDone(t, runProcessor(t, p), 2*time.Second)

	// Assert
	if len(order) != 50 {
		t.Fatalf("len(order) = %d, want 50", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

// TestTaskProcessor_TaskAddedDuringFrameRunsNextFrame verifies the snapshot
// Given: A repeating frame task and a one-shot task that enqueues another task
// When: The processor runs one frame
// Then: The enqueued task runs after the frame task has run again
func TestTaskProcessor_TaskAddedDuringFrameRunsNextFrame(t *testing.T) {
	p, _ := newTestProcessor(1)
	frame := 0
	ranAtFrame := -1

	p.AddRepeatingWork(func(ctx context.Context) {
		frame++
		if frame == 5 {
			p.Stop()
		}
	})
	p.Add(func(ctx context.Context) {
		p.Add(func(ctx context.Context) { ranAtFrame = frame }, false, false)
	}, false, false)

	waitDone(t, runProcessor(t, p), 2*time.Second)

	if ranAtFrame != 2 {
		t.Errorf("follow-up task ran at frame %d, want 2", ranAtFrame)
	}
}

// TestTaskProcessor_PanicContainment verifies one bad task does not stop the loop
// Given: A panicking main task and a panicking background task followed by normal work
// When: The processor runs
// Then: The normal work still runs and both panics are counted and logged
func TestTaskProcessor_PanicContainment(t *testing.T) {
	// Arrange
	p, logger := newTestProcessor(1)
	var after atomic.Int32
	p.Add(func(ctx context.Context) { panic("main boom") }, false, false)
	p.Add(func(ctx context.Context) { panic("background boom") }, false, true)
	p.Add(func(ctx context.Context) { after.Add(1) }, false, false)
	p.Add(func(ctx context.Context) { after.Add(1) }, false, true)

	// Act
	runProcessor(t, p)

	// Assert
	waitFor(t, 2*time.Second, func() bool { return after.Load() == 2 })
	waitFor(t, time.Second, func() bool { return p.Stats().Panicked == 2 })
	if n := logger.count("ERROR"); n != 2 {
		t.Errorf("error logs = %d, want 2", n)
	}
	if !p.IsRunning() {
		t.Error("IsRunning() = false after panics, want true")
	}
}

// TestTaskProcessor_WorkAfterStopNeverRuns verifies tasks queued while stopped
func TestTaskProcessor_WorkAfterStopNeverRuns(t *testing.T) {
	p, _ := newTestProcessor(2)
	done := runProcessor(t, p)
	waitFor(t, time.Second, p.IsRunning)
	p.Close()
	waitDone(t, done, time.Second)

	var ran atomic.Bool
	p.AddWork(func(ctx context.Context) { ran.Store(true) })
	p.AddBackgroundWork(func(ctx context.Context) { ran.Store(true) })
	time.Sleep(50 * time.Millisecond)

	if ran.Load() {
		t.Error("task added after Stop was executed")
	}
}

// TestTaskProcessor_ContextCancellationStops verifies Start honours its context
func TestTaskProcessor_ContextCancellationStops(t *testing.T) {
	p, _ := newTestProcessor(2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()
	waitFor(t, time.Second, p.IsRunning)

	cancel()

	if err := waitDone(t, done, time.Second); err != nil {
		t.Errorf("Start() error = %v", err)
	}
	p.Wait()
}

// TestTaskProcessor_StopCancelsTaskContext verifies cooperative cancellation
// Given: A background task blocked on its context
// When: The processor is stopped
// Then: The task observes cancellation and Close returns
func TestTaskProcessor_StopCancelsTaskContext(t *testing.T) {
	// Arrange
	p, _ := newTestProcessor(1)
	entered := make(chan struct{})
	var cancelled atomic.Bool
	p.AddBackgroundWork(func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
		cancelled.Store(true)
	})
	runProcessor(t, p)
	<-entered

	// Act
	closed := make(chan struct{})
	go func() { p.Close(); close(closed) }()

	// Assert
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}
	if !cancelled.Load() {
		t.Error("task context was not cancelled")
	}
}

// TestTaskProcessor_PollIntervalWakesOnWork verifies the parked loop wakes up
// Given: A processor with a long poll interval that is idle
// When: Main work is added
// Then: It runs well before the interval elapses
func TestTaskProcessor_PollIntervalWakesOnWork(t *testing.T) {
	p := NewTaskProcessorWithConfig(ProcessorConfig{
		Workers:      1,
		PollInterval: 10 * time.Second,
		Logger:       NewNoOpLogger(),
	})
	runProcessor(t, p)
	waitFor(t, time.Second, p.IsRunning)
	time.Sleep(20 * time.Millisecond)

	ran := make(chan struct{})
	p.AddWork(func(ctx context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("main task did not run while loop was parked")
	}
}

// TestTaskProcessor_LockOSThread verifies the foreground loop runs when pinned
func TestTaskProcessor_LockOSThread(t *testing.T) {
	p := NewTaskProcessorWithConfig(ProcessorConfig{
		Workers:      1,
		LockOSThread: true,
		Logger:       NewNoOpLogger(),
	})
	p.AddWork(func(ctx context.Context) { p.Stop() })

	if err := waitDone(t, runProcessor(t, p), time.Second); err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

// TestTaskProcessor_CurrentProcessor verifies the context helper inside tasks
func TestTaskProcessor_CurrentProcessor(t *testing.T) {
	p, _ := newTestProcessor(1)
	var got atomic.Pointer[TaskProcessor]
	p.AddWork(func(ctx context.Context) {
		got.Store(CurrentProcessor(ctx))
		CurrentProcessor(ctx).Stop()
	})

	waitDone(t, runProcessor(t, p), time.Second)

	if got.Load() != p {
		t.Errorf("CurrentProcessor() = %p, want %p", got.Load(), p)
	}
	if CurrentProcessor(context.Background()) != nil {
		t.Error("CurrentProcessor(background) != nil")
	}
}

// TestTaskProcessor_StatsAndHistory verifies observability snapshots
func TestTaskProcessor_StatsAndHistory(t *testing.T) {
	// Arrange
	p, _ := newTestProcessor(2)
	p.AddWrapped(MakeWrapped(func(ctx context.Context) {}, false, false, false).Named("load-level"))
	p.AddWrapped(MakeWrapped(func(ctx context.Context) { panic("bad") }, false, false, false).Named("explode"))
	p.AddWrapped(MakeWrapped(func(ctx context.Context) { p.Stop() }, false, false, false).Named("quit"))

	// Act
	waitDone(t, runProcessor(t, p), time.Second)

	// Assert
	stats := p.Stats()
	if stats.ID != "test" || stats.Workers != 2 || stats.Running {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.Executed != 3 || stats.Panicked != 1 {
		t.Errorf("Executed = %d, Panicked = %d, want 3, 1", stats.Executed, stats.Panicked)
	}
	if stats.LastTaskName != "quit" {
		t.Errorf("LastTaskName = %q, want quit", stats.LastTaskName)
	}

	recent := p.RecentTasks(0)
	if len(recent) != 3 {
		t.Fatalf("len(RecentTasks) = %d, want 3", len(recent))
	}
	if recent[0].Name != "quit" || recent[1].Name != "explode" || recent[2].Name != "load-level" {
		t.Errorf("RecentTasks names = %q, %q, %q", recent[0].Name, recent[1].Name, recent[2].Name)
	}
	if !recent[1].Panicked || recent[1].Queue != QueueMain || recent[1].WorkerID != -1 {
		t.Errorf("explode record = %+v", recent[1])
	}
}

// TestQueueKind_String verifies the metric label values
func TestQueueKind_String(t *testing.T) {
	if QueueMain.String() != "main" || QueueBackground.String() != "background" {
		t.Errorf("String() = %q, %q", QueueMain, QueueBackground)
	}
}
