package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/contentplane/scheduler/internal/config"
	"github.com/contentplane/scheduler/internal/dispatch"
	"github.com/contentplane/scheduler/internal/eventbus"
	"github.com/contentplane/scheduler/internal/eventmonitor"
	"github.com/contentplane/scheduler/internal/failurewatcher"
	"github.com/contentplane/scheduler/internal/scheduler"
	"github.com/contentplane/scheduler/internal/store"
	"github.com/contentplane/scheduler/internal/worker"
)

// scheduleStore bundles ScheduleStore and WorkerRegistry, which every
// backend in this file implements on a single connection.
type scheduleStore interface {
	store.ScheduleStore
	store.WorkerRegistry
}

func buildStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (scheduleStore, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.PostgresDSN)
	case "redis":
		return store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, scheduler.ErrConfiguration
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("schedulerd: configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("schedulerd: failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	log.Printf("schedulerd: connected to Redis at %s", cfg.RedisAddr)

	schedules, err := buildStore(ctx, cfg, redisClient)
	if err != nil {
		log.Fatalf("schedulerd: failed to initialize %q store backend: %v", cfg.Backend, err)
	}
	log.Printf("schedulerd: using %q store backend", cfg.Backend)

	bus := eventbus.NewRedisBus(redisClient)

	breaker := dispatch.NewCircuitBreaker(cfg.CircuitFailureLimit, cfg.CircuitCooldown)
	dispatcher := dispatch.NewRedisDispatcher(redisClient, breaker, cfg.DispatchRatePerSecond, cfg.DispatchBurst)
	resolver := dispatch.NewRedisResultResolver(redisClient)

	failures := failurewatcher.NewWithTTL(cfg.FailureWatchTTL)

	cleaner := worker.NewDispatchCleaner(dispatcher)
	workerWatcher := worker.NewWatcher(schedules, cleaner)
	timeoutMonitor := worker.NewTimeoutMonitor(schedules, cleaner)
	timeoutMonitor.Timeout = cfg.WorkerTimeout
	timeoutMonitor.Frequency = cfg.SweepFrequency

	monitor := eventmonitor.New(bus, failures, resolver, schedules, workerWatcher)
	go eventmonitor.StartTrimLoop(ctx, failures, cfg.SweepFrequency)

	var guard scheduler.ActiveGuard
	if cfg.HAEnabled {
		guard = scheduler.NewRedisActiveGuard(redisClient, cfg.LeaseTTL)
		log.Printf("schedulerd: active-instance election enabled, lease ttl %s", cfg.LeaseTTL)
	} else {
		guard = scheduler.NewNoopGuard()
	}

	sched := scheduler.New(scheduler.Config{
		Schedules:      schedules,
		Dispatcher:     dispatcher,
		Failures:       failures,
		EventMonitor:   monitor,
		TimeoutMonitor: timeoutMonitor,
		ActiveGuard:    guard,
	})
	sched.Start(ctx)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	log.Println("==================================================")
	log.Println("content scheduler starting")
	log.Printf("store backend:       %s", cfg.Backend)
	log.Printf("worker timeout:      %s", cfg.WorkerTimeout)
	log.Printf("sweep frequency:     %s", cfg.SweepFrequency)
	log.Printf("max beat interval:   %s", scheduler.MaxBeatInterval)
	log.Printf("HA enabled:          %v", cfg.HAEnabled)
	log.Printf("metrics listening on %s", cfg.MetricsAddr)
	log.Println("==================================================")

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Fatalf("schedulerd: metrics server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("schedulerd: shutting down")
	cancel()
	guard.Stop()
}
