package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/contentplane/scheduler/internal/observability"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ActiveGuard generalizes spec.md §9's "lazy instantiation" concern from
// a single process to a replica set: operators commonly run several
// beat processes for availability, and at most one may drive dispatch
// or the background loops at a time. Adapted from the teacher's
// coordination/leader.go LeaderElector and coordination/janitor.go
// LockJanitor, simplified to a single Redis lease (no durable epoch
// store — this core has no Postgres-backed fencing-token table, so the
// lease key itself is the source of truth).
//
// When HA is disabled (the default, see internal/config), NewNoopGuard
// reproduces spec.md's single-process semantics exactly: always active,
// no network calls.
type ActiveGuard interface {
	// Start begins the election loop in the background. onElected is
	// called (once, in its own goroutine) when this instance becomes
	// active; onLost is called if active status is subsequently lost.
	Start(ctx context.Context, onElected func(context.Context), onLost func())
	Stop()
	IsActive() bool
}

// NoopGuard is always active. It is the default: HA election is opt-in,
// not required, matching spec.md's base case of a single scheduler
// process.
type NoopGuard struct{}

func NewNoopGuard() *NoopGuard { return &NoopGuard{} }

func (g *NoopGuard) Start(ctx context.Context, onElected func(context.Context), onLost func()) {
	observability.ActiveInstance.Set(1)
	go onElected(ctx)
}

func (g *NoopGuard) Stop() {}

func (g *NoopGuard) IsActive() bool { return true }

const leaseKey = "scheduler:active-lease"

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// RedisActiveGuard elects exactly one active instance among replicas
// sharing a Redis deployment, via a single SET NX PX lease plus
// CAS-guarded renew/release Lua scripts (the same
// check-before-mutate pattern as the teacher's redis_versioned.go).
type RedisActiveGuard struct {
	client   *redis.Client
	instance string
	ttl      time.Duration

	mu         sync.RWMutex
	active     bool
	leaseValue string
	cancelLoop context.CancelFunc
	onLost     func()
}

func NewRedisActiveGuard(client *redis.Client, ttl time.Duration) *RedisActiveGuard {
	return &RedisActiveGuard{
		client:   client,
		instance: uuid.NewString(),
		ttl:      ttl,
	}
}

func (g *RedisActiveGuard) IsActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

func (g *RedisActiveGuard) Start(ctx context.Context, onElected func(context.Context), onLost func()) {
	g.onLost = onLost
	loopCtx, cancel := context.WithCancel(ctx)
	g.cancelLoop = cancel
	go g.loop(loopCtx, onElected)
}

func (g *RedisActiveGuard) Stop() {
	if g.cancelLoop != nil {
		g.cancelLoop()
	}
	if g.IsActive() {
		g.release()
	}
}

func (g *RedisActiveGuard) loop(ctx context.Context, onElected func(context.Context)) {
	interval := g.ttl / 3
	minInterval := interval
	maxInterval := 10 * g.ttl

	var activeCtx context.Context
	var activeCancel context.CancelFunc

	ticker := time.NewTimer(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if activeCancel != nil {
				activeCancel()
			}
			return
		case <-ticker.C:
			var err error
			if g.IsActive() {
				var renewed bool
				renewed, err = g.renew(ctx)
				if err == nil && !renewed {
					g.stepDown()
					if activeCancel != nil {
						activeCancel()
					}
				}
			} else {
				var acquired bool
				acquired, err = g.acquire(ctx)
				if err == nil && acquired {
					g.mu.Lock()
					g.active = true
					g.mu.Unlock()
					activeCtx, activeCancel = context.WithCancel(ctx)
					observability.ActiveInstance.Set(1)
					log.Printf("scheduler: instance %s became active", g.instance)
					go onElected(activeCtx)
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
				log.Printf("scheduler: active-guard election error, backing off %s: %v", interval, err)
			} else {
				interval = minInterval
			}
			ticker.Reset(interval)
		}
	}
}

func (g *RedisActiveGuard) acquire(ctx context.Context) (bool, error) {
	value := g.instance + ":" + uuid.NewString()
	ok, err := g.client.SetNX(ctx, leaseKey, value, g.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		g.mu.Lock()
		g.leaseValue = value
		g.mu.Unlock()
	}
	return ok, nil
}

func (g *RedisActiveGuard) renew(ctx context.Context) (bool, error) {
	g.mu.RLock()
	value := g.leaseValue
	g.mu.RUnlock()
	if value == "" {
		return false, nil
	}
	res, err := g.client.Eval(ctx, renewScript, []string{leaseKey}, value, g.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (g *RedisActiveGuard) release() {
	g.mu.RLock()
	value := g.leaseValue
	g.mu.RUnlock()
	if value == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g.client.Eval(ctx, releaseScript, []string{leaseKey}, value)
}

func (g *RedisActiveGuard) stepDown() {
	g.mu.Lock()
	g.active = false
	g.leaseValue = ""
	g.mu.Unlock()
	observability.ActiveInstance.Set(0)
	log.Printf("scheduler: instance %s lost active status", g.instance)
	if g.onLost != nil {
		g.onLost()
	}
}
