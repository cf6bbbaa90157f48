package store

import "time"

// ScheduledCall is the persisted record driving one entry of the beat
// loop. It is the durable source of truth for a schedule; ScheduleEntry
// (see package scheduler) is derived from it on each cache rebuild.
type ScheduledCall struct {
	ID                  string         `json:"id" db:"id"`
	Enabled             bool           `json:"enabled" db:"enabled"`
	Schedule            string         `json:"schedule" db:"schedule"` // "@every 5m" or a 5-field crontab expression
	Task                string         `json:"task" db:"task"`
	Args                []any          `json:"args" db:"args"`
	Kwargs              map[string]any `json:"kwargs" db:"kwargs"`
	Options             map[string]any `json:"options" db:"options"`
	LastRun             time.Time      `json:"last_run" db:"last_run"`
	RemainingRuns       *int           `json:"remaining_runs,omitempty" db:"remaining_runs"` // nil = infinite
	ConsecutiveFailures int            `json:"consecutive_failures" db:"consecutive_failures"`
	FailureThreshold    *int           `json:"failure_threshold,omitempty" db:"failure_threshold"` // nil = policy disabled
	LastUpdated         int64          `json:"last_updated" db:"last_updated"`                     // monotonically-advancing
}

// Ignored reports whether the Scheduler must skip this call even though
// it is enabled (spec.md §3: remaining_runs == 0 is always ignored).
func (c *ScheduledCall) Ignored() bool {
	return c.RemainingRuns != nil && *c.RemainingRuns == 0
}

// AvailableWorker is the persisted liveness row for one broker worker.
type AvailableWorker struct {
	Name            string    `json:"name" db:"name"`
	LastHeartbeat   time.Time `json:"last_heartbeat" db:"last_heartbeat"`
	NumReservations int       `json:"num_reservations" db:"num_reservations"`
}
