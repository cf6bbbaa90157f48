package scheduler

import (
	"time"

	"github.com/contentplane/scheduler/internal/store"
)

// Configuration constants from spec.md §6.
const (
	WorkerTimeoutSeconds  = 300
	SweepFrequencySeconds = 60
	FailureWatchTTL       = 4 * time.Hour
	MaxBeatInterval       = 90 * time.Second
	ResourceManagerPrefix = "resource_manager@"
	ResourceManagerQueue  = "resource_manager"
)

// ScheduleEntry is the in-memory, beat-loop-facing projection of a
// persisted ScheduledCall: what tick() actually iterates. It carries a
// back-reference to its source record (rather than copying out the
// failure-policy fields) per spec.md §9's design note — entries live
// only as long as the schedule cache they belong to, so holding the
// pointer is safe and avoids staleness between the two.
type ScheduleEntry struct {
	Name     string
	Schedule Schedule
	Source   *store.ScheduledCall

	// LastRun is updated in place on every dispatch; it is this
	// entry's notion of "last", independent of what's persisted. The
	// stored value is used only when an entry first appears; a
	// setup_schedule() rebuild carries the in-memory value forward.
	LastRun time.Time
}

// DueNow reports whether this entry's schedule has a fire time at or
// before now.
func (e *ScheduleEntry) DueNow(now time.Time) bool {
	return !e.Schedule.Next(e.LastRun).After(now)
}

func newEntry(call *store.ScheduledCall) (*ScheduleEntry, error) {
	sched, err := ParseSchedule(call.Schedule)
	if err != nil {
		return nil, err
	}
	return &ScheduleEntry{
		Name:     call.ID,
		Schedule: sched,
		Source:   call,
		LastRun:  call.LastRun,
	}, nil
}
