package scheduler

import "errors"

// Error kinds per spec.md §7. Each is a sentinel tested with
// errors.Is; callers that need the underlying cause wrap one of these
// with fmt.Errorf("...: %w", ...).
var (
	// ErrTransientStore: the store is unavailable or reset. Policy: log
	// at error, never propagate out of a background loop.
	ErrTransientStore = errors.New("scheduler: transient store error")

	// ErrTransientBroker: the event bus connection dropped. Policy: log
	// at error, re-enter the event monitor from the top.
	ErrTransientBroker = errors.New("scheduler: transient broker error")

	// ErrMalformedEvent: an event is missing a required field. Policy:
	// log at error, drop the event, continue.
	ErrMalformedEvent = errors.New("scheduler: malformed event")

	// ErrUnsupportedOperation: Scheduler.Add was called. Policy:
	// propagate to the caller as a hard error.
	ErrUnsupportedOperation = errors.New("scheduler: unsupported operation")

	// ErrConfiguration: the process could not be configured at startup.
	// Policy: propagate; the process must fail to start.
	ErrConfiguration = errors.New("scheduler: configuration error")
)
