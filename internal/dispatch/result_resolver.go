package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// taskResult is the payload a worker writes back after finishing a task,
// at resultKey(taskID). ChainTaskID is set when the task's return value
// is itself a reference to a follow-up task (event['uuid'] of a chained
// call), mirroring the isinstance(return_value, AsyncResult) check in
// _examples/original_source/server/pulp/server/async/scheduler.py's
// handle_succeeded_task.
type taskResult struct {
	ChainTaskID string `json:"chain_task_id,omitempty"`
}

// RedisResultResolver implements failurewatcher.ResultResolver by
// reading the result a worker stored for a finished task. A missing key
// is treated as "no chain" rather than an error: the original result
// backend's get() returns None in that case too.
type RedisResultResolver struct {
	client *redis.Client
}

func NewRedisResultResolver(client *redis.Client) *RedisResultResolver {
	return &RedisResultResolver{client: client}
}

func resultKey(taskID string) string {
	return fmt.Sprintf("scheduler:result:%s", taskID)
}

func (r *RedisResultResolver) ChildTaskID(ctx context.Context, taskID string) (string, bool, error) {
	data, err := r.client.Get(ctx, resultKey(taskID)).Bytes()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fetch result for %s: %w", taskID, err)
	}

	var res taskResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", false, fmt.Errorf("decode result for %s: %w", taskID, err)
	}
	if res.ChainTaskID == "" {
		return "", false, nil
	}
	return res.ChainTaskID, true, nil
}
