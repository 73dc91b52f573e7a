package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/store"
	"github.com/google/uuid"
)

// MemoryStore is the in-memory Store implementation. All transitions happen
// under one mutex, which makes them trivially linearizable; snapshots are
// returned by value so callers never observe concurrent mutation.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*domain.TaskRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*domain.TaskRecord),
	}
}

// Save persists a new task record.
func (s *MemoryStore) Save(ctx context.Context, rec *domain.TaskRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("%w: task %s", store.ErrDuplicate, rec.ID)
	}

	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

// GetByID returns a snapshot of the task record.
func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	clone := *rec
	return &clone, nil
}

// MarkRunning transitions Queued or Retrying to Running.
func (s *MemoryStore) MarkRunning(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	if !domain.CanTransition(rec.State, domain.TaskStateRunning) {
		return nil, fmt.Errorf("%w: task %s is %s", store.ErrStaleState, id, rec.State)
	}

	now := time.Now().UTC()
	rec.State = domain.TaskStateRunning
	rec.Attempt++
	rec.StartedAt = &now

	clone := *rec
	return &clone, nil
}

// MarkSucceeded transitions Running to Succeeded and records the result.
func (s *MemoryStore) MarkSucceeded(ctx context.Context, id uuid.UUID, result string) error {
	return s.finish(id, domain.TaskStateSucceeded, result, "")
}

// MarkRetrying transitions Running to Retrying and records the error.
func (s *MemoryStore) MarkRetrying(ctx context.Context, id uuid.UUID, taskErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.ErrTaskNotFound
	}

	if !domain.CanTransition(rec.State, domain.TaskStateRetrying) {
		return fmt.Errorf("%w: task %s is %s", store.ErrStaleState, id, rec.State)
	}

	rec.State = domain.TaskStateRetrying
	rec.Error = taskErr
	return nil
}

// MarkDeadLettered transitions Running through Failed to DeadLettered.
func (s *MemoryStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, taskErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.ErrTaskNotFound
	}

	if !domain.CanTransition(rec.State, domain.TaskStateFailed) {
		return fmt.Errorf("%w: task %s is %s", store.ErrStaleState, id, rec.State)
	}

	now := time.Now().UTC()
	rec.State = domain.TaskStateDeadLettered
	rec.Error = taskErr
	rec.Result = ""
	rec.CompletedAt = &now
	return nil
}

// MarkCancelled transitions Queued or Retrying to Cancelled. Returns false
// without error when the task is already Running or terminal.
func (s *MemoryStore) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, store.ErrTaskNotFound
	}

	if !domain.CanTransition(rec.State, domain.TaskStateCancelled) {
		return false, nil
	}

	now := time.Now().UTC()
	rec.State = domain.TaskStateCancelled
	rec.CompletedAt = &now
	return true, nil
}

// ListByState returns snapshots of all tasks in the given state, oldest first.
func (s *MemoryStore) ListByState(ctx context.Context, state domain.TaskState) ([]*domain.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TaskRecord
	for _, rec := range s.records {
		if rec.State == state {
			clone := *rec
			out = append(out, &clone)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountActiveForConversation returns how many tasks for the key are in an
// active state.
func (s *MemoryStore) CountActiveForConversation(ctx context.Context, key uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if rec.ConversationKey.Valid && rec.ConversationKey.UUID == key && rec.State.Active() {
			n++
		}
	}
	return n, nil
}

// PruneTerminal removes terminal task records completed before the retention
// window.
func (s *MemoryStore) PruneTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	pruned := 0
	for id, rec := range s.records {
		if !rec.State.Terminal() {
			continue
		}
		completed := rec.CompletedAt
		if completed != nil && completed.Before(cutoff) {
			delete(s.records, id)
			pruned++
		}
	}
	return pruned, nil
}

// CountByState returns the number of tasks per state. Used for engine stats.
func (s *MemoryStore) CountByState(ctx context.Context) (map[domain.TaskState]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.TaskState]int)
	for _, rec := range s.records {
		counts[rec.State]++
	}
	return counts, nil
}

func (s *MemoryStore) finish(id uuid.UUID, state domain.TaskState, result, taskErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.ErrTaskNotFound
	}

	if !domain.CanTransition(rec.State, state) {
		return fmt.Errorf("%w: task %s is %s", store.ErrStaleState, id, rec.State)
	}

	now := time.Now().UTC()
	rec.State = state
	rec.Result = result
	rec.Error = taskErr
	rec.CompletedAt = &now
	return nil
}
