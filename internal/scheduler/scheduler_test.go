package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/contentplane/scheduler/internal/failurewatcher"
	"github.com/contentplane/scheduler/internal/store"
)

type mockDispatcher struct {
	calls []string
	nextID string
}

func (m *mockDispatcher) ApplyAsync(ctx context.Context, task string, args []any, kwargs map[string]any, options map[string]any) (string, error) {
	m.calls = append(m.calls, task)
	if m.nextID != "" {
		return m.nextID, nil
	}
	return "task-" + task, nil
}

func threshold(n int) *int { return &n }

func TestSetupScheduleSkipsZeroRemainingRuns(t *testing.T) {
	memStore := store.NewMemoryStore()
	zero := 0
	memStore.PutSchedule(&store.ScheduledCall{ID: "a", Enabled: true, Schedule: "@every 1m", Task: "noop", RemainingRuns: &zero})
	memStore.PutSchedule(&store.ScheduledCall{ID: "b", Enabled: true, Schedule: "@every 1m", Task: "noop"})

	s := New(Config{Schedules: memStore, Dispatcher: &mockDispatcher{}, Failures: failurewatcher.New()})
	entries, err := s.Schedule(context.Background())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, ok := entries["a"]; ok {
		t.Error("expected remaining_runs=0 schedule to be excluded")
	}
	if _, ok := entries["b"]; !ok {
		t.Error("expected schedule b to be present")
	}
}

func TestTickDispatchesDueEntries(t *testing.T) {
	memStore := store.NewMemoryStore()
	memStore.PutSchedule(&store.ScheduledCall{ID: "a", Enabled: true, Schedule: "@every 1m", Task: "ping"})
	dispatcher := &mockDispatcher{}

	s := New(Config{Schedules: memStore, Dispatcher: dispatcher, Failures: failurewatcher.New()})
	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0] != "ping" {
		t.Fatalf("expected one dispatch of 'ping', got %+v", dispatcher.calls)
	}

	// Second tick immediately after should not redispatch (not due yet).
	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected no redispatch before the interval elapses, got %+v", dispatcher.calls)
	}
}

func TestApplyAsyncRegistersWatchWhenThresholdSet(t *testing.T) {
	memStore := store.NewMemoryStore()
	call := &store.ScheduledCall{ID: "a", Enabled: true, Schedule: "@every 1m", Task: "ping", FailureThreshold: threshold(3), ConsecutiveFailures: 1}
	memStore.PutSchedule(call)
	dispatcher := &mockDispatcher{nextID: "task-123"}
	watcher := failurewatcher.New()

	s := New(Config{Schedules: memStore, Dispatcher: dispatcher, Failures: watcher})
	entries, _ := s.Schedule(context.Background())

	if _, err := s.applyAsync(context.Background(), entries["a"]); err != nil {
		t.Fatalf("applyAsync: %v", err)
	}
	if watcher.Len() != 1 {
		t.Fatalf("expected one watched task, got %d", watcher.Len())
	}
}

func TestApplyAsyncSkipsWatchWithoutThreshold(t *testing.T) {
	memStore := store.NewMemoryStore()
	memStore.PutSchedule(&store.ScheduledCall{ID: "a", Enabled: true, Schedule: "@every 1m", Task: "ping"})
	dispatcher := &mockDispatcher{}
	watcher := failurewatcher.New()

	s := New(Config{Schedules: memStore, Dispatcher: dispatcher, Failures: watcher})
	entries, _ := s.Schedule(context.Background())
	s.applyAsync(context.Background(), entries["a"])

	if watcher.Len() != 0 {
		t.Fatalf("expected no watch without a failure_threshold, got %d", watcher.Len())
	}
}

func TestAddIsUnsupported(t *testing.T) {
	s := New(Config{Schedules: store.NewMemoryStore(), Dispatcher: &mockDispatcher{}, Failures: failurewatcher.New()})
	if err := s.Add(context.Background(), &ScheduleEntry{}); err != ErrUnsupportedOperation {
		t.Fatalf("expected ErrUnsupportedOperation, got %v", err)
	}
}

func TestScheduleChangedOnNewEnabledSchedule(t *testing.T) {
	memStore := store.NewMemoryStore()
	s := New(Config{Schedules: memStore, Dispatcher: &mockDispatcher{}, Failures: failurewatcher.New()})

	if _, err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if s.scheduleChanged(context.Background()) {
		t.Fatal("expected no change with an unchanged empty store")
	}

	memStore.PutSchedule(&store.ScheduledCall{ID: "new", Enabled: true, Schedule: "@every 1m", Task: "noop"})
	if !s.scheduleChanged(context.Background()) {
		t.Fatal("expected schedule_changed to detect the new enabled schedule")
	}
}

func TestTickRespectsMaxBeatInterval(t *testing.T) {
	s := New(Config{Schedules: store.NewMemoryStore(), Dispatcher: &mockDispatcher{}, Failures: failurewatcher.New()})
	sleep, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if sleep != MaxBeatInterval {
		t.Fatalf("expected sleep capped at %v, got %v", MaxBeatInterval, sleep)
	}
}

// TestSetupScheduleCarriesForwardLastRun guards against a rebuild
// (triggered here by a sibling schedule's failure count, which bumps
// last_updated and makes scheduleChanged true) silently rolling an
// entry's LastRun back to the store's stale value and causing it to
// re-fire early.
func TestSetupScheduleCarriesForwardLastRun(t *testing.T) {
	memStore := store.NewMemoryStore()
	memStore.PutSchedule(&store.ScheduledCall{ID: "a", Enabled: true, Schedule: "@every 5m", Task: "ping"})
	memStore.PutSchedule(&store.ScheduledCall{ID: "b", Enabled: true, Schedule: "@every 5m", Task: "ping", FailureThreshold: threshold(10)})

	s := New(Config{Schedules: memStore, Dispatcher: &mockDispatcher{}, Failures: failurewatcher.New()})
	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	advanced := s.schedule["a"].LastRun
	if advanced.IsZero() {
		t.Fatal("expected entry a to have a non-zero LastRun after dispatch")
	}

	// Bumps b's last_updated without touching a, which is enough to
	// make scheduleChanged report true and trigger a rebuild.
	if err := memStore.IncrementFailureCount(context.Background(), "b"); err != nil {
		t.Fatalf("IncrementFailureCount: %v", err)
	}
	if !s.scheduleChanged(context.Background()) {
		t.Fatal("expected the failure count bump to be detected as a schedule change")
	}

	if _, err := s.Schedule(context.Background()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !s.schedule["a"].LastRun.Equal(advanced) {
		t.Fatalf("expected rebuild to carry forward a's LastRun %v, got %v", advanced, s.schedule["a"].LastRun)
	}
}

func TestParseScheduleFormsAgree(t *testing.T) {
	if _, err := ParseSchedule("@every 5m"); err != nil {
		t.Errorf("interval form: %v", err)
	}
	if _, err := ParseSchedule("*/5 * * * *"); err != nil {
		t.Errorf("crontab form: %v", err)
	}
	if _, err := ParseSchedule("not a schedule"); err == nil {
		t.Error("expected an error for an unparseable schedule")
	}
}

func TestIntervalScheduleNextFiresAfterPeriod(t *testing.T) {
	sched, err := ParseSchedule("@every 10ms")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	last := time.Now()
	next := sched.Next(last)
	if !next.After(last) {
		t.Fatal("expected Next to fire strictly after last")
	}
}
