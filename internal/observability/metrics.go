package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScheduleCount tracks the size of the in-memory schedule cache.
	ScheduleCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scheduler_schedule_count",
		Help: "Number of entries currently loaded in the beat loop's schedule cache",
	}, []string{"source"})

	// TickDuration tracks how long one beat iteration takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Duration of one Scheduler.Tick call",
		Buckets: prometheus.DefBuckets,
	})

	// TasksDispatched counts apply_async submissions by task name.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_tasks_dispatched_total",
		Help: "Total number of tasks submitted through the dispatcher",
	}, []string{"task"})

	// DispatchErrors counts failed dispatch attempts.
	DispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_dispatch_errors_total",
		Help: "Total number of ApplyAsync calls that returned an error",
	}, []string{"reason"})

	// WatchedTasks tracks the current size of the FailureWatcher table.
	WatchedTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_watched_tasks",
		Help: "Current number of tasks tracked by the FailureWatcher",
	})

	// ConsecutiveFailureResets counts reset_failure_count calls.
	ConsecutiveFailureResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_failure_resets_total",
		Help: "Total number of schedules whose consecutive failure count was reset",
	})

	// ConsecutiveFailureIncrements counts increment_failure_count calls.
	ConsecutiveFailureIncrements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_failure_increments_total",
		Help: "Total number of consecutive-failure increments recorded",
	})

	// WorkerTimeouts counts workers swept up as missing by WorkerTimeoutMonitor.
	WorkerTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_worker_timeouts_total",
		Help: "Total number of workers declared missing by the timeout sweep",
	})

	// ActiveInstance reports whether this process currently holds the
	// active lease (1) or is standing by (0).
	ActiveInstance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_active_instance",
		Help: "1 if this process currently holds the active-instance lease, 0 otherwise",
	})

	// EventBusReconnects counts EventMonitor re-entries after an error.
	EventBusReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_eventbus_reconnects_total",
		Help: "Total number of times the event monitor re-entered after an error",
	})
)
