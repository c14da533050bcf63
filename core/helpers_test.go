package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level  string
	msg    string
	fields []Field
}

func (l *recordingLogger) Debug(msg string, fields ...Field) { l.add("DEBUG", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...Field)  { l.add("INFO", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...Field)  { l.add("WARN", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...Field) { l.add("ERROR", msg, fields) }

func (l *recordingLogger) add(level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// newTestProcessor builds a quiet processor with the given worker count.
func newTestProcessor(workers int) (*TaskProcessor, *recordingLogger) {
	logger := &recordingLogger{}
	p := NewTaskProcessorWithConfig(ProcessorConfig{
		ID:      "test",
		Workers: workers,
		Logger:  logger,
	})
	return p, logger
}

// runProcessor calls Start on a new goroutine and returns a channel that
// receives its result.
func runProcessor(t *testing.T, p *TaskProcessor) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()
	t.Cleanup(p.Close)
	return done
}

// waitDone fails the test if Start has not returned within timeout.
func waitDone(t *testing.T, done <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("Start() did not return in time")
		return nil
	}
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
