// Package scheduler implements the beat loop described in spec.md §4.5:
// it rebuilds an in-memory schedule cache from an external store,
// detects when that cache has gone stale via cheap indexed queries, and
// dispatches due entries through a TaskDispatcher. Grounded on
// Scheduler in
// _examples/original_source/server/pulp/server/async/scheduler.py.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/contentplane/scheduler/internal/dispatch"
	"github.com/contentplane/scheduler/internal/eventmonitor"
	"github.com/contentplane/scheduler/internal/failurewatcher"
	"github.com/contentplane/scheduler/internal/observability"
	"github.com/contentplane/scheduler/internal/store"
	"github.com/contentplane/scheduler/internal/worker"
)

// Scheduler owns the beat loop's in-memory schedule cache and drives
// dispatch. _schedule/_loaded_from_db_count/_most_recent_timestamp from
// the original are unexported fields here (schedule, loadedFromStore,
// mostRecentTimestamp) — all three are read and written by the beat
// goroutine only, per spec.md §5, so they need no lock of their own.
type Scheduler struct {
	schedules store.ScheduleStore
	dispatcher dispatch.TaskDispatcher
	failures  *failurewatcher.Watcher

	// staticEntries are schedules configured at process startup rather
	// than sourced from the store (spec.md §4.5: "Start with the
	// statically-configured entries from configuration").
	staticEntries []*ScheduleEntry

	schedule            map[string]*ScheduleEntry
	loadedFromStore     int
	mostRecentTimestamp int64

	eventMonitor   *eventmonitor.Monitor
	timeoutMonitor *worker.TimeoutMonitor
	activeGuard    ActiveGuard

	mu sync.Mutex // protects watchersStarted, used only to make Start idempotent
	watchersStarted bool
}

// Config bundles the pieces needed to run the scheduler's two daemon
// loops alongside the beat loop.
type Config struct {
	Schedules      store.ScheduleStore
	Dispatcher     dispatch.TaskDispatcher
	Failures       *failurewatcher.Watcher
	EventMonitor   *eventmonitor.Monitor
	TimeoutMonitor *worker.TimeoutMonitor
	ActiveGuard    ActiveGuard
	StaticEntries  []*ScheduleEntry
}

func New(cfg Config) *Scheduler {
	guard := cfg.ActiveGuard
	if guard == nil {
		guard = NewNoopGuard()
	}
	return &Scheduler{
		schedules:      cfg.Schedules,
		dispatcher:     cfg.Dispatcher,
		failures:       cfg.Failures,
		staticEntries:  cfg.StaticEntries,
		eventMonitor:   cfg.EventMonitor,
		timeoutMonitor: cfg.TimeoutMonitor,
		activeGuard:    guard,
	}
}

// setupSchedule rebuilds the in-memory schedule map from scratch:
// static entries first, then everything enabled in the store. A call
// with remaining_runs == 0 is skipped even though enabled (spec.md §3).
//
// Nothing durably persists LastRun — IncrementFailureCount/
// ResetFailureCount both bump last_updated, so a busy failure counter
// alone is enough to make scheduleChanged true and trigger a rebuild
// on essentially every tick. Without carrying LastRun forward here, a
// rebuild would silently roll every entry's run-state back to whatever
// is in the store (always its zero value, since nothing ever writes
// last_run), so an "@every 5m" entry would re-fire on every ~90s beat
// instead of every 5m. Matching by Name against the previous in-memory
// schedule before replacing it keeps the already-advanced LastRun.
func (s *Scheduler) setupSchedule(ctx context.Context) error {
	previous := s.schedule
	rebuilt := make(map[string]*ScheduleEntry, len(s.staticEntries))
	for _, e := range s.staticEntries {
		rebuilt[e.Name] = e
	}

	calls, err := s.schedules.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("%w: list enabled schedules: %v", ErrTransientStore, err)
	}

	var mostRecent int64
	loaded := 0
	for _, call := range calls {
		if call.Ignored() {
			continue
		}
		entry, err := newEntry(call)
		if err != nil {
			log.Printf("scheduler: dropping schedule %s with unparseable spec %q: %v", call.ID, call.Schedule, err)
			continue
		}
		if prior, ok := previous[entry.Name]; ok {
			entry.LastRun = prior.LastRun
		}
		rebuilt[entry.Name] = entry
		loaded++
		if call.LastUpdated > mostRecent {
			mostRecent = call.LastUpdated
		}
	}

	s.schedule = rebuilt
	s.loadedFromStore = loaded
	s.mostRecentTimestamp = mostRecent
	observability.ScheduleCount.WithLabelValues("store").Set(float64(loaded))
	observability.ScheduleCount.WithLabelValues("static").Set(float64(len(s.staticEntries)))
	return nil
}

// scheduleChanged is the sole cache-invalidation signal: there is no
// push notification from the store, only two cheap indexed queries.
func (s *Scheduler) scheduleChanged(ctx context.Context) bool {
	count, err := s.schedules.CountEnabled(ctx)
	if err != nil {
		log.Printf("scheduler: count_enabled failed, assuming unchanged: %v", err)
		return false
	}
	if count != s.loadedFromStore {
		return true
	}

	updated, err := s.schedules.CountUpdatedSince(ctx, s.mostRecentTimestamp)
	if err != nil {
		log.Printf("scheduler: count_updated_since failed, assuming unchanged: %v", err)
		return false
	}
	return updated > 0
}

// Schedule returns the current entry map, rebuilding it first if it's
// never been built or the store reports it stale.
func (s *Scheduler) Schedule(ctx context.Context) (map[string]*ScheduleEntry, error) {
	if s.schedule == nil || s.scheduleChanged(ctx) {
		if err := s.setupSchedule(ctx); err != nil {
			return nil, err
		}
	}
	return s.schedule, nil
}

// Tick runs one beat iteration: dispatch every due entry, trim the
// failure watcher, and report how long to sleep before the next tick:
// the time until the earliest entry's next fire time, at least one
// second and capped at MaxBeatInterval so a schedule change is detected
// in bounded time even with nothing due.
func (s *Scheduler) Tick(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	defer func() { observability.TickDuration.Observe(time.Since(start).Seconds()) }()

	entries, err := s.Schedule(ctx)
	if err != nil {
		log.Printf("scheduler: tick: %v", err)
		return MaxBeatInterval, nil
	}

	now := time.Now()
	for _, entry := range entries {
		if !entry.DueNow(now) {
			continue
		}
		if _, err := s.applyAsync(ctx, entry); err != nil {
			log.Printf("scheduler: dispatch of %s failed: %v", entry.Name, err)
			continue
		}
		entry.LastRun = now
	}

	s.failures.Trim()
	observability.WatchedTasks.Set(float64(s.failures.Len()))

	sleep := MaxBeatInterval
	for _, entry := range entries {
		if until := time.Until(entry.Schedule.Next(entry.LastRun)); until < sleep {
			sleep = until
		}
	}
	if sleep < time.Second {
		sleep = time.Second
	}
	return sleep, nil
}

// applyAsync submits entry's task and, if its source schedule enforces
// a failure threshold, registers the submission with the FailureWatcher
// so a later outcome event can be attributed back to it.
func (s *Scheduler) applyAsync(ctx context.Context, entry *ScheduleEntry) (string, error) {
	call := entry.Source
	var task string
	var args []any
	var kwargs map[string]any
	var options map[string]any
	if call != nil {
		task, args, kwargs, options = call.Task, call.Args, call.Kwargs, call.Options
	}

	taskID, err := s.dispatcher.ApplyAsync(ctx, task, args, kwargs, options)
	if err != nil {
		observability.DispatchErrors.WithLabelValues("broker").Inc()
		return "", fmt.Errorf("%w: %v", ErrTransientBroker, err)
	}
	observability.TasksDispatched.WithLabelValues(task).Inc()

	if call != nil && call.FailureThreshold != nil {
		s.failures.Add(taskID, entry.Name, call.ConsecutiveFailures > 0)
	}
	return taskID, nil
}

// Add is not supported: new schedules are introduced by writing to the
// store and discovered through cache invalidation, not through this
// API (spec.md §4.5).
func (s *Scheduler) Add(context.Context, *ScheduleEntry) error {
	return ErrUnsupportedOperation
}

// Start begins the beat loop, the event monitor, and the timeout
// monitor, but only on whichever replica the ActiveGuard elects as
// active — with the default NoopGuard, that's immediately and
// unconditionally, reproducing spec.md's single-process semantics.
// Calling Start more than once is a no-op after the first call.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.watchersStarted {
		s.mu.Unlock()
		return
	}
	s.watchersStarted = true
	s.mu.Unlock()

	s.activeGuard.Start(ctx, s.runActive, s.stopActive)
}

func (s *Scheduler) runActive(ctx context.Context) {
	log.Println("scheduler: this instance is active, starting beat loop and daemons")

	if s.eventMonitor != nil {
		go s.eventMonitor.Run(ctx)
	}
	if s.timeoutMonitor != nil {
		go s.timeoutMonitor.Run(ctx)
	}
	go s.beatLoop(ctx)
}

func (s *Scheduler) stopActive() {
	log.Println("scheduler: this instance lost active status")
}

func (s *Scheduler) beatLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sleep, err := s.Tick(ctx)
			if err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
			timer.Reset(sleep)
		}
	}
}
