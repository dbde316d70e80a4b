package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorio/mstflow/pkg/core/failfast"
)

type queueEntry struct {
	task    Task
	handler Handler
}

// TaskQueue is an unbounded FIFO of tasks, each bound to the handler that
// will run it. Its lock is only held to push or pop, never while a handler
// runs, so callers may hold their own locks around Enqueue.
type TaskQueue struct {
	mu    sync.Mutex
	items []queueEntry
}

// NewTaskQueue creates an empty queue
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Enqueue appends t bound to h. Never blocks.
func (q *TaskQueue) Enqueue(t Task, h Handler) {
	failfast.NotNil(h, "handler")
	q.mu.Lock()
	q.items = append(q.items, queueEntry{task: t, handler: h})
	q.mu.Unlock()
}

func (q *TaskQueue) pop() (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queueEntry{}, false
	}
	e := q.items[0]
	q.items[0] = queueEntry{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return e, true
}

// DequeueAndExecute pops the oldest task and runs its handler with the queue
// unlocked. It returns ErrQueueEmpty without blocking when there is nothing
// to run. A stale task is dropped without running. A handler panic is
// recovered and reported as an Execution error wrapping ErrHandlerPanic.
func (q *TaskQueue) DequeueAndExecute(ctx context.Context) (Execution, error) {
	e, ok := q.pop()
	if !ok {
		return Execution{}, ErrQueueEmpty
	}

	exec := Execution{Task: e.task}
	if e.task.Stale() {
		exec.Dropped = true
		exec.Err = ErrStaleTask
		e.task.finish(exec)
		return exec, nil
	}

	start := time.Now()
	exec.Err = runHandler(ctx, e.handler, e.task)
	exec.Duration = time.Since(start)
	e.task.finish(exec)
	return exec, nil
}

func runHandler(ctx context.Context, h Handler, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, t)
}

// IsEmpty reports whether the queue had no tasks at the time of the call
func (q *TaskQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Size returns the number of pending tasks at the time of the call
func (q *TaskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes every pending task without running it. Each removed task
// is notified through its Done callback with ErrDiscarded.
func (q *TaskQueue) Clear() []Task {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	tasks := make([]Task, 0, len(items))
	for _, e := range items {
		e.task.finish(Execution{Task: e.task, Err: ErrDiscarded, Discarded: true})
		tasks = append(tasks, e.task)
	}
	return tasks
}
