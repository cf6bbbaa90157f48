// Package dispatch submits task invocations to the broker that workers
// consume from. It plays the role of Celery's apply_async in the
// original scheduler, generalized to an explicit interface so the
// scheduler core never depends on a specific broker.
package dispatch

import "context"

// TaskDispatcher queues one invocation of task for a worker to pick up.
// The returned ID is what callers (FailureWatcher, in particular) use
// to correlate a later task-succeeded/task-failed event back to this
// submission.
type TaskDispatcher interface {
	ApplyAsync(ctx context.Context, task string, args []any, kwargs map[string]any, options map[string]any) (taskID string, err error)
}
