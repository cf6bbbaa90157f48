// Package eventbus carries the worker-liveness and task-result events
// that FailureWatcher, WorkerWatcher and EventMonitor react to. It plays
// the role Celery's event stream plays against the original scheduler:
// a transport the scheduler core is largely agnostic to, beyond needing
// a blocking Subscribe call it can run a background loop against.
package eventbus

import (
	"context"
	"time"
)

// Kind identifies the event channels the scheduler core cares about.
// Wakeup is synthetic: Subscribe delivers one to its handler and
// broadcasts one on the bus once the subscription is established, so a
// late-starting EventMonitor discovers workers that heartbeat before it
// came up, mirroring capture(wakeup=True) in the original implementation.
type Kind string

const (
	WorkerHeartbeat Kind = "worker-heartbeat"
	WorkerOffline   Kind = "worker-offline"
	TaskSucceeded   Kind = "task-succeeded"
	TaskFailed      Kind = "task-failed"
	Wakeup          Kind = "wakeup"
)

// Event is the payload carried on every channel. Not every field applies
// to every Kind; WorkerName is set for worker-* events, TaskID/ScheduleID
// for task-* events.
type Event struct {
	Kind       Kind
	WorkerName string
	TaskID     string
	ScheduleID string
	Timestamp  time.Time
}

// Bus is the transport EventMonitor consumes and WorkerWatcher/task
// producers publish to.
type Bus interface {
	Publish(ctx context.Context, e Event) error

	// Subscribe blocks delivering events to handler until ctx is
	// cancelled or an unrecoverable transport error occurs. It emits a
	// synthetic Wakeup event immediately after the subscription is
	// established, before any real events can arrive.
	Subscribe(ctx context.Context, handler func(Event)) error

	Close() error
}
