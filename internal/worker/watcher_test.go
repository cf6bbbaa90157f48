package worker

import (
	"context"
	"testing"
	"time"

	"github.com/contentplane/scheduler/internal/eventbus"
	"github.com/contentplane/scheduler/internal/store"
)

type mockCleaner struct {
	deleted []string
}

func (m *mockCleaner) DeleteQueue(ctx context.Context, workerName string) error {
	m.deleted = append(m.deleted, workerName)
	return nil
}

func TestHandleHeartbeatUpsertsWorker(t *testing.T) {
	registry := store.NewMemoryStore()
	cleaner := &mockCleaner{}
	w := NewWatcher(registry, cleaner)

	now := time.Now()
	err := w.HandleHeartbeat(context.Background(), eventbus.Event{WorkerName: "worker-1", Timestamp: now})
	if err != nil {
		t.Fatalf("HandleHeartbeat: %v", err)
	}

	stale, _ := registry.FilterStale(context.Background(), now.Add(time.Second))
	if len(stale) != 1 || stale[0].Name != "worker-1" {
		t.Fatalf("expected worker-1 registered, got %+v", stale)
	}
}

func TestHandleHeartbeatIgnoresResourceManager(t *testing.T) {
	registry := store.NewMemoryStore()
	w := NewWatcher(registry, &mockCleaner{})

	err := w.HandleHeartbeat(context.Background(), eventbus.Event{WorkerName: "resource_manager@host1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("HandleHeartbeat: %v", err)
	}

	stale, _ := registry.FilterStale(context.Background(), time.Now().Add(time.Hour))
	if len(stale) != 0 {
		t.Fatalf("resource manager should not be registered as a worker, got %+v", stale)
	}
}

func TestHandleOfflineDispatchesCleanup(t *testing.T) {
	cleaner := &mockCleaner{}
	w := NewWatcher(store.NewMemoryStore(), cleaner)

	err := w.HandleOffline(context.Background(), eventbus.Event{WorkerName: "worker-1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("HandleOffline: %v", err)
	}
	if len(cleaner.deleted) != 1 || cleaner.deleted[0] != "worker-1" {
		t.Fatalf("expected delete_queue dispatched for worker-1, got %+v", cleaner.deleted)
	}
}

func TestHandleOfflineIgnoresResourceManager(t *testing.T) {
	cleaner := &mockCleaner{}
	w := NewWatcher(store.NewMemoryStore(), cleaner)

	if err := w.HandleOffline(context.Background(), eventbus.Event{WorkerName: "resource_manager@host1"}); err != nil {
		t.Fatalf("HandleOffline: %v", err)
	}
	if len(cleaner.deleted) != 0 {
		t.Fatalf("resource manager offline should not trigger cleanup, got %+v", cleaner.deleted)
	}
}

func TestTimeoutMonitorSweepsStaleWorkers(t *testing.T) {
	registry := store.NewMemoryStore()
	cleaner := &mockCleaner{}
	m := NewTimeoutMonitor(registry, cleaner)
	m.Timeout = time.Minute

	registry.Upsert(context.Background(), "fresh-worker", time.Now())
	registry.Upsert(context.Background(), "stale-worker", time.Now().Add(-time.Hour))

	if err := m.checkWorkers(context.Background()); err != nil {
		t.Fatalf("checkWorkers: %v", err)
	}
	if len(cleaner.deleted) != 1 || cleaner.deleted[0] != "stale-worker" {
		t.Fatalf("expected only stale-worker cleaned up, got %+v", cleaner.deleted)
	}
}
