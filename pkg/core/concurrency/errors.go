package concurrency

import "errors"

var (
	// ErrQueueEmpty is returned by DequeueAndExecute when there is nothing to run
	ErrQueueEmpty = errors.New("task queue is empty")

	// ErrStaleTask marks a task whose connection went away before it ran
	ErrStaleTask = errors.New("task connection is no longer alive")

	// ErrStopped is returned when work is submitted after stop was requested
	ErrStopped = errors.New("processor is stopped")

	// ErrDiscarded is reported to a task that was cleared from a queue without running
	ErrDiscarded = errors.New("task discarded without execution")

	// ErrUpstreamNotReady is returned when the target stage's upstream has not committed
	ErrUpstreamNotReady = errors.New("upstream stage has not committed")

	// ErrHandlerPanic wraps a panic recovered from a task handler
	ErrHandlerPanic = errors.New("task handler panicked")

	// ErrNoRoute is returned when no stage accepts the task's operation
	ErrNoRoute = errors.New("no stage handles operation")
)
