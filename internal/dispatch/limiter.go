package dispatch

import (
	"sync"

	"golang.org/x/time/rate"
)

// queueLimiter paces submissions per-queue rather than globally,
// following the teacher's TokenBucketLimiter
// (control_plane/scheduler/limiter.go): a lazily-created *rate.Limiter
// per key, guarded by one mutex. RedisDispatcher only consults it for
// ResourceManagerQueue (spec.md §4.6) — ordinary task queues are
// ungated, so a burst of simultaneously-due entries isn't throttled.
type queueLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newQueueLimiter(ratePerSecond float64, burst int) *queueLimiter {
	return &queueLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(ratePerSecond),
		b:        burst,
	}
}

func (l *queueLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter.Allow()
}
