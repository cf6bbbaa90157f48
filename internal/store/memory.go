package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process ScheduleStore + WorkerRegistry, used for
// local development and tests. It mirrors the mutex-guarded map
// discipline of the teacher's MemoryStore (control_plane/store/memory.go).
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]*ScheduledCall
	workers   map[string]*AvailableWorker
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules: make(map[string]*ScheduledCall),
		workers:   make(map[string]*AvailableWorker),
	}
}

// PutSchedule installs or replaces a ScheduledCall, for test fixtures and
// the admin surfaces external collaborators would use to write schedules.
func (s *MemoryStore) PutSchedule(call *ScheduledCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *call
	s.schedules[call.ID] = &cp
}

func (s *MemoryStore) GetEnabled(ctx context.Context) ([]*ScheduledCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ScheduledCall
	for _, c := range s.schedules {
		if c.Enabled {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountEnabled(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.schedules {
		if c.Enabled {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetUpdatedSince(ctx context.Context, ts int64) ([]*ScheduledCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ScheduledCall
	for _, c := range s.schedules {
		if c.Enabled && c.LastUpdated > ts {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountUpdatedSince(ctx context.Context, ts int64) (int, error) {
	all, _ := s.GetUpdatedSince(ctx, ts)
	return len(all), nil
}

func (s *MemoryStore) IncrementFailureCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.schedules[id]
	if !ok {
		return nil
	}
	c.ConsecutiveFailures++
	if c.FailureThreshold != nil && c.ConsecutiveFailures >= *c.FailureThreshold {
		c.Enabled = false
	}
	c.LastUpdated++
	return nil
}

func (s *MemoryStore) ResetFailureCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.schedules[id]
	if !ok {
		return nil
	}
	c.ConsecutiveFailures = 0
	c.LastUpdated++
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, name string, lastHeartbeat time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		s.workers[name] = &AvailableWorker{Name: name, LastHeartbeat: lastHeartbeat}
		return nil
	}
	w.LastHeartbeat = lastHeartbeat
	return nil
}

func (s *MemoryStore) FilterStale(ctx context.Context, cutoff time.Time) ([]*AvailableWorker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AvailableWorker
	for _, w := range s.workers {
		if w.LastHeartbeat.Before(cutoff) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

// DeleteWorker removes a worker row, standing in for the delete_queue
// task's row-removal side effect (spec.md §4.2 — that cleanup happens in
// the dispatch coordinator's single-writer context in production). The
// scheduler core itself never calls it.
func (s *MemoryStore) DeleteWorker(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, name)
}
