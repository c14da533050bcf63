package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
//
// Implementations should be thread-safe as they may be called concurrently
// from the foreground loop and every worker.
type PanicHandler interface {
	// HandlePanic is called after the panic has been contained.
	//
	// Parameters:
	// - ctx: The run context of the processor
	// - processorID: The ID of the task processor where the panic occurred
	// - workerID: The ID of the worker (-1 for the foreground loop)
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, processorID string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler reports panics through a Logger at error severity.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic value and stack.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, processorID string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("processor", processorID),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting processor and bus metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast: they run on the frame loop.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(processorID string, queue QueueKind, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(processorID string, queue QueueKind, panicInfo any)

	// RecordQueueDepth records the current number of queued tasks.
	RecordQueueDepth(processorID string, queue QueueKind, depth int)

	// RecordBroadcast records one Broadcast call and how many subscribers
	// received the message.
	RecordBroadcast(messageType string, deliveries int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(processorID string, queue QueueKind, duration time.Duration) {
}

func (m *NilMetrics) RecordTaskPanic(processorID string, queue QueueKind, panicInfo any) {}

func (m *NilMetrics) RecordQueueDepth(processorID string, queue QueueKind, depth int) {}

func (m *NilMetrics) RecordBroadcast(messageType string, deliveries int) {}
