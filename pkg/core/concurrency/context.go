package concurrency

import "context"

type workerKey struct{}

// WithWorker tags ctx with the name of the stage or pool worker running a task
func WithWorker(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workerKey{}, name)
}

// WorkerFrom returns the worker name set by WithWorker, or ""
func WorkerFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(workerKey{}).(string)
	return name
}
