package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Task is the unit of work (Closure).
// The context is cancelled once the processor running the task stops, so
// long-running tasks should watch ctx.Done().
type Task func(ctx context.Context)

// =============================================================================
// TaskTraits: scheduling flags carried by every wrapped task
// =============================================================================

type TaskTraits struct {
	// Name is used in logs, history and metrics. Resolved from the function
	// symbol when empty.
	Name string

	// Repeating tasks are re-enqueued into the queue they ran from after
	// every execution.
	Repeating bool

	// Background tasks run on the worker goroutines instead of the
	// foreground loop.
	Background bool

	// FrameSynced tasks always run on the foreground loop, even when
	// Background is also set.
	FrameSynced bool
}

// ErrTaskInterrupted is returned by WrappedTask.Run when the task context was
// already cancelled before the body started.
var ErrTaskInterrupted = errors.New("task interrupted")

// TaskPanicError carries a value recovered from a panicking task body.
type TaskPanicError struct {
	Value any
	Stack []byte
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *TaskPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// =============================================================================
// WrappedTask
// =============================================================================

// WrappedTask bundles a Task with its traits. It is a plain value: copying it
// copies the closure reference, which is how repeating tasks re-enqueue
// themselves. The zero value runs as a no-op.
type WrappedTask struct {
	task   Task
	Traits TaskTraits
}

// MakeWrapped pairs task with the three scheduling flags.
func MakeWrapped(task Task, repeating, background, framesync bool) WrappedTask {
	return WrappedTask{
		task: task,
		Traits: TaskTraits{
			Name:        resolveTaskName(task, ""),
			Repeating:   repeating,
			Background:  background,
			FrameSynced: framesync,
		},
	}
}

// WrapWithTraits wraps task using fully specified traits.
func WrapWithTraits(task Task, traits TaskTraits) WrappedTask {
	traits.Name = resolveTaskName(task, traits.Name)
	return WrappedTask{task: task, Traits: traits}
}

// Named returns a copy of t with an explicit display name.
func (t WrappedTask) Named(name string) WrappedTask {
	if name != "" {
		t.Traits.Name = name
	}
	return t
}

// Name returns the display name of the task.
func (t WrappedTask) Name() string {
	if t.Traits.Name == "" {
		return resolveTaskName(t.task, "")
	}
	return t.Traits.Name
}

// IsZero reports whether no work was assigned to t.
func (t WrappedTask) IsZero() bool {
	return t.task == nil
}

// runsInBackground reports which queue t belongs to.
func (t WrappedTask) runsInBackground() bool {
	return t.Traits.Background && !t.Traits.FrameSynced
}

// Run executes the wrapped task and contains every failure.
// A panic in the body is recovered and returned as *TaskPanicError. A context
// cancelled before the body starts is treated as an interruption and returns
// ErrTaskInterrupted without running it.
func (t WrappedTask) Run(ctx context.Context) (err error) {
	if t.task == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrTaskInterrupted, context.Cause(ctx))
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = &TaskPanicError{Value: rec, Stack: debug.Stack()}
		}
	}()

	t.task(ctx)
	return nil
}

// =============================================================================
// Context Helper
// =============================================================================
type processorKeyType struct{}

var processorKey processorKeyType

// CurrentProcessor returns the TaskProcessor running the task that owns ctx,
// or nil outside of a task.
func CurrentProcessor(ctx context.Context) *TaskProcessor {
	if v := ctx.Value(processorKey); v != nil {
		return v.(*TaskProcessor)
	}
	return nil
}
