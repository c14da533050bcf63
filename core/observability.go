package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	Name        string
	ProcessorID string
	Queue       QueueKind
	WorkerID    int
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Panicked    bool
	Interrupted bool
}

// ProcessorStats represents runtime observability state for a TaskProcessor.
type ProcessorStats struct {
	ID               string
	Workers          int
	MainQueued       int
	BackgroundQueued int
	Delayed          int
	Executed         int64
	Panicked         int64
	Running          bool
	LastTaskName     string
	LastTaskAt       time.Time
}

// BusStats represents the subscriber registry of a Bus.
type BusStats struct {
	MessageTypes int
	// Subscribers maps the message type name to its subscriber count.
	Subscribers map[string]int
	Broadcasts  int64
}
