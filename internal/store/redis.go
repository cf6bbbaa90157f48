package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements ScheduleStore and WorkerRegistry over Redis,
// following the teacher's RedisStore (control_plane/store/redis.go):
// one client, Lua scripts preloaded at construction time for the atomic
// operations that must not race (control_plane/store/redis_versioned.go).
type RedisStore struct {
	client *redis.Client

	incrementFailureSHA string
	resetFailureSHA     string
}

// NewRedisStore connects to addr and preloads the Lua scripts used by
// IncrementFailureCount/ResetFailureCount.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	incrSHA, err := client.ScriptLoad(ctx, incrementFailureScript).Result()
	if err != nil {
		return nil, fmt.Errorf("preload increment-failure script: %w", err)
	}
	resetSHA, err := client.ScriptLoad(ctx, resetFailureScript).Result()
	if err != nil {
		return nil, fmt.Errorf("preload reset-failure script: %w", err)
	}

	return &RedisStore{client: client, incrementFailureSHA: incrSHA, resetFailureSHA: resetSHA}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// --- Schedule encode/decode (Redis Hash per schedule id) ---

func encodeCall(c *ScheduledCall) (map[string]any, error) {
	argsJSON, err := json.Marshal(c.Args)
	if err != nil {
		return nil, err
	}
	kwargsJSON, err := json.Marshal(c.Kwargs)
	if err != nil {
		return nil, err
	}
	optionsJSON, err := json.Marshal(c.Options)
	if err != nil {
		return nil, err
	}
	remaining := -1
	if c.RemainingRuns != nil {
		remaining = *c.RemainingRuns
	}
	threshold := -1
	if c.FailureThreshold != nil {
		threshold = *c.FailureThreshold
	}
	enabled := 0
	if c.Enabled {
		enabled = 1
	}
	return map[string]any{
		"id":                   c.ID,
		"enabled":              enabled,
		"schedule":             c.Schedule,
		"task":                 c.Task,
		"args":                 string(argsJSON),
		"kwargs":               string(kwargsJSON),
		"options":              string(optionsJSON),
		"last_run":             c.LastRun.Unix(),
		"remaining_runs":       remaining,
		"consecutive_failures": c.ConsecutiveFailures,
		"failure_threshold":    threshold,
		"last_updated":         c.LastUpdated,
	}, nil
}

func decodeCall(fields map[string]string) (*ScheduledCall, error) {
	if len(fields) == 0 {
		return nil, errors.New("empty schedule hash")
	}
	c := &ScheduledCall{
		ID:       fields["id"],
		Enabled:  fields["enabled"] == "1",
		Schedule: fields["schedule"],
		Task:     fields["task"],
	}
	if err := json.Unmarshal([]byte(fields["args"]), &c.Args); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields["kwargs"]), &c.Kwargs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields["options"]), &c.Options); err != nil {
		return nil, err
	}
	if v, err := strconv.ParseInt(fields["last_run"], 10, 64); err == nil {
		c.LastRun = time.Unix(v, 0).UTC()
	}
	if v, err := strconv.Atoi(fields["remaining_runs"]); err == nil && v != -1 {
		c.RemainingRuns = &v
	}
	if v, err := strconv.Atoi(fields["consecutive_failures"]); err == nil {
		c.ConsecutiveFailures = v
	}
	if v, err := strconv.Atoi(fields["failure_threshold"]); err == nil && v != -1 {
		c.FailureThreshold = &v
	}
	if v, err := strconv.ParseInt(fields["last_updated"], 10, 64); err == nil {
		c.LastUpdated = v
	}
	return c, nil
}

// PutSchedule writes (or replaces) a ScheduledCall and maintains the
// index/enabled/updated auxiliary structures used for cheap queries.
func (s *RedisStore) PutSchedule(ctx context.Context, c *ScheduledCall) error {
	fields, err := encodeCall(c)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, scheduleKey(c.ID), fields)
	pipe.SAdd(ctx, scheduleIndexKey(), c.ID)
	if c.Enabled {
		pipe.SAdd(ctx, scheduleEnabledIndexKey(), c.ID)
	} else {
		pipe.SRem(ctx, scheduleEnabledIndexKey(), c.ID)
	}
	pipe.ZAdd(ctx, scheduleUpdatedZKey(), redis.Z{Score: float64(c.LastUpdated), Member: c.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) getCall(ctx context.Context, id string) (*ScheduledCall, error) {
	fields, err := s.client.HGetAll(ctx, scheduleKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return decodeCall(fields)
}

func (s *RedisStore) GetEnabled(ctx context.Context) ([]*ScheduledCall, error) {
	ids, err := s.client.SMembers(ctx, scheduleEnabledIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list enabled schedule ids: %w", err)
	}
	out := make([]*ScheduledCall, 0, len(ids))
	for _, id := range ids {
		c, err := s.getCall(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) CountEnabled(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, scheduleEnabledIndexKey()).Result()
	return int(n), err
}

func (s *RedisStore) GetUpdatedSince(ctx context.Context, ts int64) ([]*ScheduledCall, error) {
	ids, err := s.client.ZRangeByScore(ctx, scheduleUpdatedZKey(), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", ts),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range updated-since: %w", err)
	}
	out := make([]*ScheduledCall, 0, len(ids))
	for _, id := range ids {
		c, err := s.getCall(ctx, id)
		if err != nil || !c.Enabled {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) CountUpdatedSince(ctx context.Context, ts int64) (int, error) {
	n, err := s.client.ZCount(ctx, scheduleUpdatedZKey(), fmt.Sprintf("(%d", ts), "+inf").Result()
	return int(n), err
}

// incrementFailureScript atomically bumps consecutive_failures and, if a
// failure_threshold is set and the new count reaches it, flips enabled to
// 0 and removes the id from the enabled index — the "atomic
// compare-and-disable" called for by spec.md §9's second Open Question.
const incrementFailureScript = `
local key = KEYS[1]
local enabled_index = KEYS[2]
local id = ARGV[1]
local now = ARGV[2]

local threshold = tonumber(redis.call("HGET", key, "failure_threshold"))
local count = redis.call("HINCRBY", key, "consecutive_failures", 1)
redis.call("HSET", key, "last_updated", now)

if threshold and threshold >= 0 and count >= threshold then
	redis.call("HSET", key, "enabled", 0)
	redis.call("SREM", enabled_index, id)
end
return count
`

// resetFailureScript atomically zeroes consecutive_failures.
const resetFailureScript = `
local key = KEYS[1]
local now = ARGV[1]
redis.call("HSET", key, "consecutive_failures", 0)
redis.call("HSET", key, "last_updated", now)
return 1
`

func (s *RedisStore) IncrementFailureCount(ctx context.Context, id string) error {
	now := time.Now().Unix()
	err := s.client.EvalSha(ctx, s.incrementFailureSHA,
		[]string{scheduleKey(id), scheduleEnabledIndexKey()}, id, now).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil && isNoScript(err) {
		sha, loadErr := s.client.ScriptLoad(ctx, incrementFailureScript).Result()
		if loadErr != nil {
			return loadErr
		}
		s.incrementFailureSHA = sha
		err = s.client.EvalSha(ctx, sha, []string{scheduleKey(id), scheduleEnabledIndexKey()}, id, now).Err()
	}
	return err
}

func (s *RedisStore) ResetFailureCount(ctx context.Context, id string) error {
	now := time.Now().Unix()
	err := s.client.EvalSha(ctx, s.resetFailureSHA, []string{scheduleKey(id)}, now).Err()
	if err != nil && isNoScript(err) {
		sha, loadErr := s.client.ScriptLoad(ctx, resetFailureScript).Result()
		if loadErr != nil {
			return loadErr
		}
		s.resetFailureSHA = sha
		err = s.client.EvalSha(ctx, sha, []string{scheduleKey(id)}, now).Err()
	}
	return err
}

func isNoScript(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOSCRIPT"
}

// --- WorkerRegistry ---

func (s *RedisStore) Upsert(ctx context.Context, name string, lastHeartbeat time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, workerKey(name), map[string]any{
		"name":           name,
		"last_heartbeat": lastHeartbeat.Unix(),
	})
	pipe.SAdd(ctx, workerIndexKey(), name)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) FilterStale(ctx context.Context, cutoff time.Time) ([]*AvailableWorker, error) {
	names, err := s.client.SMembers(ctx, workerIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list worker ids: %w", err)
	}
	out := make([]*AvailableWorker, 0)
	for _, name := range names {
		fields, err := s.client.HGetAll(ctx, workerKey(name)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		hb, err := strconv.ParseInt(fields["last_heartbeat"], 10, 64)
		if err != nil {
			continue
		}
		lastHeartbeat := time.Unix(hb, 0).UTC()
		if lastHeartbeat.Before(cutoff) {
			out = append(out, &AvailableWorker{Name: name, LastHeartbeat: lastHeartbeat})
		}
	}
	return out, nil
}

// DeleteWorker removes the registry row for name: the row-removal side
// effect of the delete_queue cleanup task, an external collaborator. The
// scheduler core and cmd/schedulerd never call it.
func (s *RedisStore) DeleteWorker(ctx context.Context, name string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(name))
	pipe.SRem(ctx, workerIndexKey(), name)
	_, err := pipe.Exec(ctx)
	return err
}
