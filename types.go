package overdrive

import "github.com/overdrive-engine/overdrive/core"

// Re-export commonly used types from core package for convenience.
// This allows games to import only the overdrive package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// WrappedTask is a task together with its scheduling flags
type WrappedTask = core.WrappedTask

// TaskTraits are the scheduling flags of a WrappedTask
type TaskTraits = core.TaskTraits

// TaskProcessor runs the frame loop and the background workers
type TaskProcessor = core.TaskProcessor

// Bus is the publish/subscribe registry shared by all systems
type Bus = core.Bus

// Subscription identifies one subscribed handler
type Subscription = core.Subscription

// Logger and Field for structured logging
type Logger = core.Logger
type Field = core.Field

var (
	MakeWrapped      = core.MakeWrapped
	F                = core.F
	CurrentProcessor = core.CurrentProcessor
)

// Subscribe registers fn for messages of type M on b.
func Subscribe[M any](b *Bus, fn func(M)) Subscription {
	return core.Subscribe(b, fn)
}

// Broadcast delivers msg to every subscriber of type M on b.
func Broadcast[M any](b *Bus, msg M) int {
	return core.Broadcast(b, msg)
}
