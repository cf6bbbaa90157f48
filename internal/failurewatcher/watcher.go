// Package failurewatcher tracks in-flight tasks so their eventual
// success or failure can be attributed back to the schedule that queued
// them, grounded on FailureWatcher in
// _examples/original_source/server/pulp/server/async/scheduler.py.
package failurewatcher

import (
	"context"
	"sync"
	"time"

	"github.com/contentplane/scheduler/internal/observability"
	"github.com/contentplane/scheduler/internal/store"
)

// watchedTask is one entry of the in-memory watch table: the schedule
// that queued a task, and whether that schedule already had a
// consecutive failure recorded at submission time.
type watchedTask struct {
	queuedAt   time.Time
	scheduleID string
	hadFailure bool
}

// Watcher is a mutex-guarded map from task ID to the schedule that
// queued it. Entries are pruned after ttl so a task whose result never
// arrives (worker crash, lost event) doesn't leak forever.
type Watcher struct {
	mu      sync.Mutex // protects watches
	watches map[string]watchedTask
	ttl     time.Duration
}

// DefaultTTL mirrors the original's 4 hour watch window.
const DefaultTTL = 4 * time.Hour

func New() *Watcher {
	return &Watcher{watches: make(map[string]watchedTask), ttl: DefaultTTL}
}

func NewWithTTL(ttl time.Duration) *Watcher {
	return &Watcher{watches: make(map[string]watchedTask), ttl: ttl}
}

// Add records that taskID was just queued by scheduleID. hadFailure
// should be the schedule's consecutive-failure state at submission
// time, so the eventual success handler knows whether a reset is owed.
func (w *Watcher) Add(taskID, scheduleID string, hadFailure bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watches[taskID] = watchedTask{queuedAt: time.Now(), scheduleID: scheduleID, hadFailure: hadFailure}
}

// pop removes and returns the watch entry for taskID, if any.
func (w *Watcher) pop(taskID string) (watchedTask, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.watches[taskID]
	if ok {
		delete(w.watches, taskID)
	}
	return t, ok
}

// Trim drops watches older than ttl. Callers run it periodically; the
// watch table is otherwise unbounded in the presence of lost events.
func (w *Watcher) Trim() {
	cutoff := time.Now().Add(-w.ttl)
	w.mu.Lock()
	defer w.mu.Unlock()
	for taskID, t := range w.watches {
		if t.queuedAt.Before(cutoff) {
			delete(w.watches, taskID)
		}
	}
}

func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// ResultResolver abstracts looking up whether a finished task's result
// is itself a reference to a follow-up task (a Celery-style chain link)
// rather than a terminal value.
type ResultResolver interface {
	ChildTaskID(ctx context.Context, taskID string) (childID string, isChain bool, err error)
}

// HandleSucceeded is the handler bound to eventbus.TaskSucceeded. If the
// task isn't being watched, it's not schedule-originated and is
// ignored. If the task's result chains into a follow-up task, the watch
// is transferred to the child so the eventual real outcome still gets
// attributed. Otherwise, if the schedule had a recorded failure when
// this task was queued, that count is reset now that a run succeeded.
func (w *Watcher) HandleSucceeded(ctx context.Context, taskID string, resolver ResultResolver, schedules store.ScheduleStore) error {
	t, ok := w.pop(taskID)
	if !ok {
		return nil
	}

	childID, isChain, err := resolver.ChildTaskID(ctx, taskID)
	if err != nil {
		return err
	}
	if isChain {
		w.Add(childID, t.scheduleID, t.hadFailure)
		return nil
	}
	if t.hadFailure {
		if err := schedules.ResetFailureCount(ctx, t.scheduleID); err != nil {
			return err
		}
		observability.ConsecutiveFailureResets.Inc()
	}
	return nil
}

// HandleFailed is the handler bound to eventbus.TaskFailed. A watched
// failure increments the owning schedule's consecutive failure count;
// ScheduleStore.IncrementFailureCount is responsible for the
// compare-and-disable once a configured threshold is reached.
func (w *Watcher) HandleFailed(ctx context.Context, taskID string, schedules store.ScheduleStore) error {
	t, ok := w.pop(taskID)
	if !ok {
		return nil
	}
	if err := schedules.IncrementFailureCount(ctx, t.scheduleID); err != nil {
		return err
	}
	observability.ConsecutiveFailureIncrements.Inc()
	return nil
}
