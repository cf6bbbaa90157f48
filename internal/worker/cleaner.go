package worker

import (
	"context"

	"github.com/contentplane/scheduler/internal/dispatch"
)

// DispatchCleaner implements QueueCleaner by submitting a delete_queue
// task through the ordinary TaskDispatcher, rather than talking to the
// resource manager directly — the scheduler has no special channel to
// it beyond the broker.
type DispatchCleaner struct {
	dispatcher dispatch.TaskDispatcher
}

func NewDispatchCleaner(dispatcher dispatch.TaskDispatcher) *DispatchCleaner {
	return &DispatchCleaner{dispatcher: dispatcher}
}

func (c *DispatchCleaner) DeleteQueue(ctx context.Context, workerName string) error {
	_, err := c.dispatcher.ApplyAsync(ctx, "delete_queue", []any{workerName}, nil, map[string]any{
		"queue": dispatch.ResourceManagerQueue,
	})
	return err
}
