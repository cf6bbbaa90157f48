// Package worker handles the two concerns Celery's scheduler attaches
// to broker worker lifecycle events: discovery via heartbeat, and
// departure via the offline event or a timeout sweep. Grounded on
// WorkerWatcher and WorkerTimeoutMonitor in
// _examples/original_source/server/pulp/server/async/scheduler.py.
package worker

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/contentplane/scheduler/internal/eventbus"
	"github.com/contentplane/scheduler/internal/observability"
	"github.com/contentplane/scheduler/internal/store"
)

// ResourceManagerPrefix marks the hostname of the privileged queue
// manager worker, whose own heartbeat/offline events carry no liveness
// information about ordinary task workers and must be ignored.
const ResourceManagerPrefix = "resource_manager@"

// QueueCleaner removes the bookkeeping row for a worker that is known
// to be gone, standing in for the _delete_queue cleanup task dispatched
// to the resource manager in the original implementation.
type QueueCleaner interface {
	DeleteQueue(ctx context.Context, workerName string) error
}

// Watcher has no state of its own; every method operates directly on
// the shared WorkerRegistry, matching the original WorkerWatcher's
// design as a namespace of static methods rather than an object with
// internal bookkeeping.
type Watcher struct {
	registry store.WorkerRegistry
	cleaner  QueueCleaner
}

func NewWatcher(registry store.WorkerRegistry, cleaner QueueCleaner) *Watcher {
	return &Watcher{registry: registry, cleaner: cleaner}
}

func isResourceManager(workerName string) bool {
	return strings.HasPrefix(workerName, ResourceManagerPrefix)
}

// HandleHeartbeat upserts the worker's liveness row. resource_manager@
// heartbeats are logged and otherwise ignored; it is not a task worker
// that schedules should ever be dispatched to.
func (w *Watcher) HandleHeartbeat(ctx context.Context, e eventbus.Event) error {
	log.Printf("worker: received worker-heartbeat from %s at %s", e.WorkerName, e.Timestamp)

	if isResourceManager(e.WorkerName) {
		return nil
	}
	return w.registry.Upsert(ctx, e.WorkerName, e.Timestamp)
}

// HandleOffline fires on a worker's graceful shutdown (it is not
// emitted if a worker is killed outright; WorkerTimeoutMonitor covers
// that case). A real worker going offline means any in-flight work it
// held needs cleanup, so a delete_queue request is dispatched.
func (w *Watcher) HandleOffline(ctx context.Context, e eventbus.Event) error {
	log.Printf("worker: received worker-offline from %s at %s", e.WorkerName, e.Timestamp)

	if isResourceManager(e.WorkerName) {
		return nil
	}
	log.Printf("worker: '%s' shut down", e.WorkerName)
	return w.cleaner.DeleteQueue(ctx, e.WorkerName)
}

// TimeoutMonitor periodically sweeps the worker registry for entries
// whose last heartbeat is older than Timeout, and requests cleanup for
// each — the safety net for the case where an entire fleet of workers
// disappears at once without emitting an offline event (a killed
// process, a network partition).
type TimeoutMonitor struct {
	registry store.WorkerRegistry
	cleaner  QueueCleaner

	// Timeout is how long a worker may go unheard from before it's
	// considered missing. Frequency is how often the sweep runs.
	Timeout   time.Duration
	Frequency time.Duration
}

// Defaults mirror WORKER_TIMEOUT_SECONDS and FREQUENCY from the
// original WorkerTimeoutMonitor.
const (
	DefaultTimeout   = 300 * time.Second
	DefaultFrequency = 60 * time.Second
)

func NewTimeoutMonitor(registry store.WorkerRegistry, cleaner QueueCleaner) *TimeoutMonitor {
	return &TimeoutMonitor{
		registry:  registry,
		cleaner:   cleaner,
		Timeout:   DefaultTimeout,
		Frequency: DefaultFrequency,
	}
}

// Run sleeps for Frequency, then sweeps, forever, until ctx is
// cancelled. A panic-free error from one sweep is logged and the loop
// continues, matching the original's log-but-continue durability.
func (m *TimeoutMonitor) Run(ctx context.Context) {
	log.Println("worker: timeout monitor started")
	ticker := time.NewTicker(m.Frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.checkWorkers(ctx); err != nil {
				log.Printf("worker: timeout sweep failed: %v", err)
			}
		}
	}
}

func (m *TimeoutMonitor) checkWorkers(ctx context.Context) error {
	cutoff := time.Now().Add(-m.Timeout)
	log.Printf("worker: looking for workers missing for more than %s", m.Timeout)

	stale, err := m.registry.FilterStale(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, w := range stale {
		log.Printf("worker: '%s' has gone missing, removing from list of workers", w.Name)
		if err := m.cleaner.DeleteQueue(ctx, w.Name); err != nil {
			log.Printf("worker: failed to clean up queue for '%s': %v", w.Name, err)
			continue
		}
		observability.WorkerTimeouts.Inc()
	}
	return nil
}
