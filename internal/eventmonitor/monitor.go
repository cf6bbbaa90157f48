// Package eventmonitor wires the event bus to the handlers that need
// to react to it, grounded on EventMonitor in
// _examples/original_source/server/pulp/server/async/scheduler.py: a
// single blocking consumer dispatching to per-event-kind handlers, run
// forever with a log-and-reenter policy around the blocking call.
package eventmonitor

import (
	"context"
	"log"
	"time"

	"github.com/contentplane/scheduler/internal/eventbus"
	"github.com/contentplane/scheduler/internal/failurewatcher"
	"github.com/contentplane/scheduler/internal/observability"
	"github.com/contentplane/scheduler/internal/store"
	"github.com/contentplane/scheduler/internal/worker"
)

// Monitor dispatches bus events to the FailureWatcher and WorkerWatcher
// handlers. It carries no other state; Subscribe on the bus is the
// blocking call, and Run is responsible only for re-entering it.
type Monitor struct {
	bus       eventbus.Bus
	failures  *failurewatcher.Watcher
	resolver  failurewatcher.ResultResolver
	schedules store.ScheduleStore
	workers   *worker.Watcher
}

func New(bus eventbus.Bus, failures *failurewatcher.Watcher, resolver failurewatcher.ResultResolver, schedules store.ScheduleStore, workers *worker.Watcher) *Monitor {
	return &Monitor{bus: bus, failures: failures, resolver: resolver, schedules: schedules, workers: workers}
}

// Run blocks until ctx is cancelled. Every error from a subscription
// attempt is logged, and the loop re-enters immediately — matching the
// original's deliberate choice of no backoff, since the background
// thread has no shutdown path of its own to worry about racing with a
// slow reconnect.
func (m *Monitor) Run(ctx context.Context) {
	log.Println("eventmonitor: starting")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.monitorEvents(ctx); err != nil {
			observability.EventBusReconnects.Inc()
			log.Printf("eventmonitor: %v", err)
		}
	}
}

func (m *Monitor) monitorEvents(ctx context.Context) error {
	return m.bus.Subscribe(ctx, func(e eventbus.Event) {
		var err error
		switch e.Kind {
		case eventbus.WorkerHeartbeat:
			err = m.workers.HandleHeartbeat(ctx, e)
		case eventbus.WorkerOffline:
			err = m.workers.HandleOffline(ctx, e)
		case eventbus.TaskSucceeded:
			err = m.failures.HandleSucceeded(ctx, e.TaskID, m.resolver, m.schedules)
		case eventbus.TaskFailed:
			err = m.failures.HandleFailed(ctx, e.TaskID, m.schedules)
		case eventbus.Wakeup:
			log.Println("eventmonitor: wakeup broadcast received, workers may re-announce now")
		default:
			log.Printf("eventmonitor: ignoring unrecognized event kind %q", e.Kind)
		}
		if err != nil {
			log.Printf("eventmonitor: handler for %s failed: %v", e.Kind, err)
		}
	})
}

// StartTrimLoop periodically trims the FailureWatcher's watch table so
// lost events don't leak memory forever. Scheduler.Tick trims as well,
// as the original's tick() does; this loop adds a trim on its own
// cadence, independent of the schedule tick interval.
func StartTrimLoop(ctx context.Context, failures *failurewatcher.Watcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			failures.Trim()
		}
	}
}
