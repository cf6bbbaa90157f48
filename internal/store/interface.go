package store

import (
	"context"
	"time"
)

// ScheduleStore is the subset of the document store's contract that the
// scheduler core consumes (spec.md §6). Implementations must make
// CountEnabled and CountUpdatedSince cheap, indexed queries —
// schedule_changed() calls them on every tick.
type ScheduleStore interface {
	GetEnabled(ctx context.Context) ([]*ScheduledCall, error)
	CountEnabled(ctx context.Context) (int, error)
	GetUpdatedSince(ctx context.Context, ts int64) ([]*ScheduledCall, error)
	CountUpdatedSince(ctx context.Context, ts int64) (int, error)

	// IncrementFailureCount atomically increments consecutive_failures for
	// schedule id, and disables the schedule when the new count reaches
	// failure_threshold (nil threshold means no disabling ever happens).
	IncrementFailureCount(ctx context.Context, id string) error

	// ResetFailureCount atomically sets consecutive_failures to 0.
	ResetFailureCount(ctx context.Context, id string) error
}

// WorkerRegistry is the subset of the worker liveness store consumed by
// WorkerWatcher and WorkerTimeoutMonitor (spec.md §6).
type WorkerRegistry interface {
	Upsert(ctx context.Context, name string, lastHeartbeat time.Time) error
	FilterStale(ctx context.Context, cutoff time.Time) ([]*AvailableWorker, error)
}
