package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// QueueKind identifies one of the two queues of a TaskProcessor.
type QueueKind int

const (
	// QueueMain is drained by the goroutine that called Start.
	QueueMain QueueKind = iota
	// QueueBackground is drained by the worker goroutines.
	QueueBackground
)

func (k QueueKind) String() string {
	switch k {
	case QueueMain:
		return "main"
	case QueueBackground:
		return "background"
	default:
		return "unknown"
	}
}

const (
	stateConstructed int32 = iota
	stateRunning
	stateStopped
)

var (
	ErrProcessorStarted = errors.New("task processor already started")
	ErrProcessorStopped = errors.New("task processor stopped")
)

// =============================================================================
// ProcessorConfig
// =============================================================================

// ProcessorConfig holds configuration options for TaskProcessor.
// All handlers are optional; if not provided, default implementations will be used.
type ProcessorConfig struct {
	// ID names the processor in logs and metrics. Defaults to a random UUID.
	ID string

	// Workers is the number of background goroutines. 0 means runtime.NumCPU().
	Workers int

	// PollInterval controls the foreground loop when the main queue is empty.
	// Zero busy-polls, yielding with runtime.Gosched, for a steady frame
	// cadence. A positive value parks the loop until new main work arrives or
	// the interval elapses.
	PollInterval time.Duration

	// LockOSThread pins the foreground loop to the OS thread that called
	// Start, for libraries with thread affinity.
	LockOSThread bool

	// Logger receives task failures. Defaults to DefaultLogger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// HistorySize bounds the execution history. Defaults to 100.
	HistorySize int
}

// DefaultProcessorConfig returns a config with default handlers.
func DefaultProcessorConfig() ProcessorConfig {
	logger := NewDefaultLogger()
	return ProcessorConfig{
		Logger:       logger,
		PanicHandler: &DefaultPanicHandler{Logger: logger},
		Metrics:      &NilMetrics{},
		HistorySize:  defaultTaskHistoryCapacity,
	}
}

// =============================================================================
// TaskProcessor
// =============================================================================

// TaskProcessor runs tasks from two queues.
//
// The main queue is drained by the goroutine that calls Start, once per
// frame: the queue is swapped into a local snapshot and the snapshot is run
// to completion. Tasks posted while a frame is being processed run in the
// next frame. The background queue is drained by a fixed pool of workers.
//
// A repeating task is re-enqueued into the queue it ran from after every
// execution, so a repeating main task runs exactly once per frame.
type TaskProcessor struct {
	id           string
	numWorkers   int
	pollInterval time.Duration
	lockOSThread bool

	mainTasks       *ConcurrentQueue[WrappedTask]
	backgroundTasks *ConcurrentQueue[WrappedTask]

	state    atomic.Int32
	wg       sync.WaitGroup
	ctx      context.Context
	drainCtx context.Context
	cancel   context.CancelFunc
	wake     chan struct{}
	stopOnce sync.Once

	delaysMu sync.Mutex
	delays   *DelayManager

	logger       Logger
	panicHandler PanicHandler
	metrics      Metrics

	executed atomic.Int64
	panicked atomic.Int64
	history  *executionHistory
}

// NewTaskProcessor creates a processor with the given number of workers and
// defaults for everything else.
func NewTaskProcessor(workers int) *TaskProcessor {
	cfg := DefaultProcessorConfig()
	cfg.Workers = workers
	return NewTaskProcessorWithConfig(cfg)
}

// NewTaskProcessorWithConfig creates a processor in the constructed state.
// Nothing runs until Start is called.
func NewTaskProcessorWithConfig(cfg ProcessorConfig) *TaskProcessor {
	defaults := DefaultProcessorConfig()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.PanicHandler == nil {
		cfg.PanicHandler = &DefaultPanicHandler{Logger: cfg.Logger}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = defaults.Metrics
	}

	p := &TaskProcessor{
		id:              cfg.ID,
		numWorkers:      cfg.Workers,
		pollInterval:    cfg.PollInterval,
		lockOSThread:    cfg.LockOSThread,
		mainTasks:       NewConcurrentQueue[WrappedTask](),
		backgroundTasks: NewConcurrentQueue[WrappedTask](),
		wake:            make(chan struct{}, 1),
		logger:          cfg.Logger,
		panicHandler:    cfg.PanicHandler,
		metrics:         cfg.Metrics,
		history:         newExecutionHistory(cfg.HistorySize),
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.ctx = context.WithValue(ctx, processorKey, p)
	p.drainCtx = context.WithoutCancel(p.ctx)
	p.cancel = cancel
	return p
}

// =============================================================================
// Task submission
// =============================================================================

// Add enqueues task with the given flags.
// Valid in any state. Work added after Stop is never executed.
func (p *TaskProcessor) Add(task Task, repeating, background bool) {
	p.AddWrapped(MakeWrapped(task, repeating, background, false))
}

// AddWrapped enqueues an already wrapped task. Frame-synced tasks always go
// to the main queue.
func (p *TaskProcessor) AddWrapped(task WrappedTask) {
	if task.runsInBackground() {
		p.backgroundTasks.Push(task)
		return
	}
	p.mainTasks.Push(task)
	p.signal()
}

// AddWork enqueues a one-shot task on the main queue.
func (p *TaskProcessor) AddWork(task Task) {
	p.Add(task, false, false)
}

func (p *TaskProcessor) AddRepeatingWork(task Task) {
	p.Add(task, true, false)
}

func (p *TaskProcessor) AddBackgroundWork(task Task) {
	p.Add(task, false, true)
}

func (p *TaskProcessor) AddRepeatingBackgroundWork(task Task) {
	p.Add(task, true, true)
}

// AddDelayed enqueues task once delay has elapsed.
func (p *TaskProcessor) AddDelayed(task Task, delay time.Duration, background bool) {
	p.AddDelayedWrapped(MakeWrapped(task, false, background, false), delay)
}

// AddDelayedWrapped enqueues task once delay has elapsed. A repeating task
// keeps repeating without further delay once it has been enqueued.
func (p *TaskProcessor) AddDelayedWrapped(task WrappedTask, delay time.Duration) {
	if delay <= 0 {
		p.AddWrapped(task)
		return
	}
	if dm := p.delayManager(); dm != nil {
		dm.AddDelayedTask(task, delay)
	}
}

// delayManager returns the delay manager, creating it on first use. It
// returns nil once the processor is stopped.
func (p *TaskProcessor) delayManager() *DelayManager {
	p.delaysMu.Lock()
	defer p.delaysMu.Unlock()
	if p.state.Load() == stateStopped {
		return nil
	}
	if p.delays == nil {
		p.delays = NewDelayManager(p.AddWrapped)
	}
	return p.delays
}

func (p *TaskProcessor) loadDelays() *DelayManager {
	p.delaysMu.Lock()
	defer p.delaysMu.Unlock()
	return p.delays
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start runs the processor and blocks until it is stopped.
//
// It spawns the worker goroutines, then turns the calling goroutine into the
// foreground loop. Cancelling ctx stops the processor. Start returns
// ErrProcessorStarted or ErrProcessorStopped unless the processor is in the
// constructed state.
func (p *TaskProcessor) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(stateConstructed, stateRunning) {
		if p.state.Load() == stateStopped {
			return ErrProcessorStopped
		}
		return ErrProcessorStarted
	}

	stopAfter := context.AfterFunc(ctx, p.Stop)
	defer stopAfter()

	if p.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	p.logger.Debug("task processor started",
		F("processor", p.id),
		F("workers", p.numWorkers),
		F("poll_interval", p.pollInterval),
	)

	p.wg.Add(p.numWorkers)
	for i := range p.numWorkers {
		go p.workerLoop(i)
	}

	p.runLoop()

	p.logger.Debug("task processor loop exited", F("processor", p.id))
	return nil
}

// Stop ends both loops. It is idempotent and safe from any goroutine,
// including from inside a task.
//
// The run context is cancelled and one no-op task per worker is pushed so
// that workers blocked in Pop observe the new state. Stop does not wait for
// the workers; use Close or Wait for that.
func (p *TaskProcessor) Stop() {
	p.stopOnce.Do(func() {
		wasRunning := p.state.Swap(stateStopped) == stateRunning
		p.cancel()

		if dm := p.loadDelays(); dm != nil {
			dm.Stop()
		}

		if wasRunning {
			for range p.numWorkers {
				p.backgroundTasks.Push(WrappedTask{Traits: TaskTraits{Name: "stop", Background: true}})
			}
		}
		p.signal()
	})
}

// Wait blocks until every worker goroutine has exited.
func (p *TaskProcessor) Wait() {
	p.wg.Wait()
}

// Close stops the processor and joins its workers.
func (p *TaskProcessor) Close() {
	p.Stop()
	p.Wait()
}

// =============================================================================
// Loops
// =============================================================================

func (p *TaskProcessor) runLoop() {
	snapshot := NewConcurrentQueue[WrappedTask]()

	var idle *time.Timer
	if p.pollInterval > 0 {
		idle = time.NewTimer(p.pollInterval)
		idle.Stop()
		defer idle.Stop()
	}

	for p.IsRunning() {
		p.mainTasks.Swap(snapshot)
		p.metrics.RecordQueueDepth(p.id, QueueMain, snapshot.Len())
		p.metrics.RecordQueueDepth(p.id, QueueBackground, p.backgroundTasks.Len())

		if snapshot.IsEmptyUnsafe() {
			p.idle(idle)
			continue
		}

		// The snapshot always runs to completion. Tasks left in it when Stop
		// is called still run, with a context that is not cancelled.
		ctx := p.ctx
		for !snapshot.IsEmptyUnsafe() {
			if !p.IsRunning() {
				ctx = p.drainCtx
			}
			p.execute(ctx, snapshot.PopUnsafe(), QueueMain, -1)
		}
	}
}

func (p *TaskProcessor) idle(timer *time.Timer) {
	if timer == nil {
		runtime.Gosched()
		return
	}

	timer.Reset(p.pollInterval)
	select {
	case <-p.wake:
	case <-timer.C:
	case <-p.ctx.Done():
	}
	timer.Stop()
}

func (p *TaskProcessor) workerLoop(id int) {
	defer p.wg.Done()

	for p.IsRunning() {
		task := p.backgroundTasks.Pop()
		if !p.IsRunning() {
			return
		}
		p.execute(p.ctx, task, QueueBackground, id)
	}
}

// execute runs one task, reports its outcome and re-enqueues it when it is
// repeating.
func (p *TaskProcessor) execute(ctx context.Context, task WrappedTask, queue QueueKind, workerID int) {
	startedAt := time.Now()
	err := task.Run(ctx)
	finishedAt := time.Now()
	duration := finishedAt.Sub(startedAt)

	p.executed.Add(1)
	p.metrics.RecordTaskDuration(p.id, queue, duration)

	record := TaskExecutionRecord{
		Name:        task.Name(),
		ProcessorID: p.id,
		Queue:       queue,
		WorkerID:    workerID,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Duration:    duration,
	}
	if err != nil {
		record.Panicked, record.Interrupted = p.reportFailure(task, queue, workerID, err)
	}
	p.history.Add(record)

	if task.Traits.Repeating {
		p.AddWrapped(task)
	}
}

func (p *TaskProcessor) reportFailure(task WrappedTask, queue QueueKind, workerID int, err error) (panicked, interrupted bool) {
	var panicErr *TaskPanicError
	if errors.As(err, &panicErr) {
		p.panicked.Add(1)
		p.metrics.RecordTaskPanic(p.id, queue, panicErr.Value)
		p.panicHandler.HandlePanic(p.ctx, p.id, workerID, panicErr.Value, panicErr.Stack)
		return true, false
	}

	p.logger.Error("task failed",
		F("processor", p.id),
		F("task", task.Name()),
		F("queue", queue),
		F("worker", workerID),
		F("error", err),
	)
	return false, errors.Is(err, ErrTaskInterrupted)
}

func (p *TaskProcessor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// =============================================================================
// Observability
// =============================================================================

// ID returns the processor identifier used in logs and metrics.
func (p *TaskProcessor) ID() string {
	return p.id
}

// WorkerCount returns the number of background workers.
func (p *TaskProcessor) WorkerCount() int {
	return p.numWorkers
}

// IsRunning reports whether Start has been called and Stop has not.
func (p *TaskProcessor) IsRunning() bool {
	return p.state.Load() == stateRunning
}

// Context returns the run context handed to every task.
func (p *TaskProcessor) Context() context.Context {
	return p.ctx
}

// Stats returns a point-in-time snapshot of the processor.
func (p *TaskProcessor) Stats() ProcessorStats {
	stats := ProcessorStats{
		ID:               p.id,
		Workers:          p.numWorkers,
		MainQueued:       p.mainTasks.Len(),
		BackgroundQueued: p.backgroundTasks.Len(),
		Executed:         p.executed.Load(),
		Panicked:         p.panicked.Load(),
		Running:          p.IsRunning(),
	}
	if dm := p.loadDelays(); dm != nil {
		stats.Delayed = dm.TaskCount()
	}
	if last, ok := p.history.Last(); ok {
		stats.LastTaskName = last.Name
		stats.LastTaskAt = last.FinishedAt
	}
	return stats
}

// RecentTasks returns up to limit execution records, newest first.
// A limit <= 0 returns everything retained.
func (p *TaskProcessor) RecentTasks(limit int) []TaskExecutionRecord {
	return p.history.Recent(limit)
}
