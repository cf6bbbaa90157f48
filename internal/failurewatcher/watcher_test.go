package failurewatcher

import (
	"context"
	"testing"
	"time"

	"github.com/contentplane/scheduler/internal/store"
)

type mockResolver struct {
	childID string
	isChain bool
}

func (m *mockResolver) ChildTaskID(ctx context.Context, taskID string) (string, bool, error) {
	return m.childID, m.isChain, nil
}

// countingStore wraps a MemoryStore and counts ResetFailureCount/
// IncrementFailureCount calls, so a test can assert that no write
// happened at all rather than only that the visible state is unchanged.
type countingStore struct {
	*store.MemoryStore
	resets     int
	increments int
}

func (s *countingStore) ResetFailureCount(ctx context.Context, id string) error {
	s.resets++
	return s.MemoryStore.ResetFailureCount(ctx, id)
}

func (s *countingStore) IncrementFailureCount(ctx context.Context, id string) error {
	s.increments++
	return s.MemoryStore.IncrementFailureCount(ctx, id)
}

func newThreshold(n int) *int { return &n }

func TestHandleFailedIncrementsSchedule(t *testing.T) {
	w := New()
	schedules := store.NewMemoryStore()
	schedules.PutSchedule(&store.ScheduledCall{ID: "sched-1", Enabled: true, FailureThreshold: newThreshold(3)})

	w.Add("task-1", "sched-1", false)
	if err := w.HandleFailed(context.Background(), "task-1", schedules); err != nil {
		t.Fatalf("HandleFailed: %v", err)
	}

	calls, _ := schedules.GetEnabled(context.Background())
	if len(calls) != 1 || calls[0].ConsecutiveFailures != 1 {
		t.Fatalf("expected consecutive_failures=1, got %+v", calls)
	}
}

func TestHandleFailedIgnoresUnwatchedTask(t *testing.T) {
	w := New()
	schedules := store.NewMemoryStore()
	if err := w.HandleFailed(context.Background(), "unknown-task", schedules); err != nil {
		t.Fatalf("HandleFailed on unwatched task should be a no-op: %v", err)
	}
}

func TestHandleSucceededResetsFailureCount(t *testing.T) {
	w := New()
	schedules := store.NewMemoryStore()
	schedules.PutSchedule(&store.ScheduledCall{ID: "sched-1", Enabled: true, ConsecutiveFailures: 2})

	w.Add("task-1", "sched-1", true)
	resolver := &mockResolver{}
	if err := w.HandleSucceeded(context.Background(), "task-1", resolver, schedules); err != nil {
		t.Fatalf("HandleSucceeded: %v", err)
	}

	calls, _ := schedules.GetEnabled(context.Background())
	if calls[0].ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive_failures reset to 0, got %d", calls[0].ConsecutiveFailures)
	}
}

func TestHandleSucceededSkipsResetWhenNoPriorFailure(t *testing.T) {
	w := New()
	mem := store.NewMemoryStore()
	mem.PutSchedule(&store.ScheduledCall{ID: "sched-1", Enabled: true, ConsecutiveFailures: 0})
	schedules := &countingStore{MemoryStore: mem}

	w.Add("task-1", "sched-1", false)
	resolver := &mockResolver{}
	if err := w.HandleSucceeded(context.Background(), "task-1", resolver, schedules); err != nil {
		t.Fatalf("HandleSucceeded: %v", err)
	}

	if schedules.resets != 0 {
		t.Fatalf("expected no ResetFailureCount call when schedule had no prior failure, got %d", schedules.resets)
	}
}

func TestHandleSucceededFollowsChainedTask(t *testing.T) {
	w := New()
	schedules := store.NewMemoryStore()
	schedules.PutSchedule(&store.ScheduledCall{ID: "sched-1", Enabled: true})

	w.Add("parent-task", "sched-1", true)
	resolver := &mockResolver{childID: "child-task", isChain: true}
	if err := w.HandleSucceeded(context.Background(), "parent-task", resolver, schedules); err != nil {
		t.Fatalf("HandleSucceeded: %v", err)
	}

	if w.Len() != 1 {
		t.Fatalf("expected the watch to transfer to the child task, len=%d", w.Len())
	}
	if _, ok := w.pop("child-task"); !ok {
		t.Fatalf("expected child-task to be watched")
	}
}

func TestTrimDropsExpiredWatches(t *testing.T) {
	w := NewWithTTL(time.Millisecond)
	w.Add("task-1", "sched-1", false)
	time.Sleep(5 * time.Millisecond)
	w.Trim()
	if w.Len() != 0 {
		t.Fatalf("expected expired watch to be trimmed, len=%d", w.Len())
	}
}
