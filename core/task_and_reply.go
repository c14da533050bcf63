package core

import "context"

// TaskWithResult is a task that produces a value for its reply.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult consumes the value produced by a TaskWithResult.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error)

// AddTaskAndReply runs task on a background worker and, once it returns
// normally, posts reply to the main queue.
//
// This is the load-in-background, apply-on-the-frame pattern: task may block
// on I/O while reply mutates frame state without extra locking. If task
// panics the panic is contained as for any other task and reply never runs.
func (p *TaskProcessor) AddTaskAndReply(task Task, reply Task) {
	p.addTaskAndReply(MakeWrapped(task, false, true, false), MakeWrapped(reply, false, false, false))
}

// addTaskAndReply posts task to the background queue, chaining reply onto
// the main queue. A zero reply leaves task unchained.
func (p *TaskProcessor) addTaskAndReply(task, reply WrappedTask) {
	if reply.IsZero() {
		p.AddWrapped(task)
		return
	}

	chained := task
	chained.task = func(ctx context.Context) {
		if task.task != nil {
			task.task(ctx)
		}
		p.AddWrapped(reply)
	}
	p.AddWrapped(chained)
}

// AddTaskAndReplyWithResult executes task on a worker and passes its result
// to reply on the main queue.
//
// The captured result and err escape to the heap; the reply is only queued
// after task returned, so the reply always observes the final values.
//
// Example:
//
//	core.AddTaskAndReplyWithResult(p,
//	    func(ctx context.Context) ([]byte, error) {
//	        return os.ReadFile("level1.txt")
//	    },
//	    func(ctx context.Context, data []byte, err error) {
//	        game.loadLevel(data, err)
//	    },
//	)
func AddTaskAndReplyWithResult[T any](p *TaskProcessor, task TaskWithResult[T], reply ReplyWithResult[T]) {
	var result T
	var err error

	p.addTaskAndReply(
		MakeWrapped(func(ctx context.Context) {
			result, err = task(ctx)
		}, false, true, false).Named(funcName(task)),
		MakeWrapped(func(ctx context.Context) {
			reply(ctx, result, err)
		}, false, false, false).Named(funcName(reply)),
	)
}
