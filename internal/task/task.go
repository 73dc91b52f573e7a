package task

import (
	"context"
	"time"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/google/uuid"
)

// Executor runs the payload of one task. Implementations wrap the external
// AI-service call and must be safe to retry; the engine treats them as
// opaque. Errors should be wrapped with ErrPermanent when a retry cannot
// succeed; anything else is treated as transient.
// Version: 1.0
type Executor interface {
	// Execute runs the task payload and classifies the exchange outcome.
	Execute(ctx context.Context, rec *domain.TaskRecord) (result string, outcome domain.Outcome, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, rec *domain.TaskRecord) (string, domain.Outcome, error) {
	return f(ctx, rec)
}

// Queue is the pluggable lane-prioritized queue backend. Enqueue never
// blocks; Dequeue blocks until work is available or the context is
// cancelled, draining lanes strictly high to low with FIFO order per lane.
// Version: 1.0
type Queue interface {
	// Enqueue appends the task to the tail of its lane.
	Enqueue(rec *domain.TaskRecord) error

	// Dequeue returns the head of the highest-priority non-empty lane.
	Dequeue(ctx context.Context) (*domain.TaskRecord, error)

	// Depths reports the number of waiting tasks per lane.
	Depths() map[domain.QueueName]int

	// Close rejects further enqueues. Waiting Dequeue calls return once
	// their context is cancelled.
	Close()
}

// Store defines durable persistence for task records. All state-changing
// methods are linearizable compare-and-swap transitions along the task
// lifecycle graph; a transition whose precondition no longer holds returns
// store.ErrStaleState.
// Version: 1.0
type Store interface {
	// Save persists a new task record.
	Save(ctx context.Context, rec *domain.TaskRecord) error

	// GetByID returns a snapshot of the task record.
	// Returns store.ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error)

	// MarkRunning transitions Queued or Retrying to Running, increments the
	// attempt counter and stamps StartedAt.
	MarkRunning(ctx context.Context, id uuid.UUID) (*domain.TaskRecord, error)

	// MarkSucceeded transitions Running to Succeeded and records the result.
	MarkSucceeded(ctx context.Context, id uuid.UUID, result string) error

	// MarkRetrying transitions Running to Retrying and records the error.
	MarkRetrying(ctx context.Context, id uuid.UUID, taskErr string) error

	// MarkDeadLettered transitions Running through Failed to DeadLettered
	// and records the error.
	MarkDeadLettered(ctx context.Context, id uuid.UUID, taskErr string) error

	// MarkCancelled transitions Queued or Retrying to Cancelled. Returns
	// false without error when the task is already Running or terminal.
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)

	// ListByState returns snapshots of all tasks in the given state,
	// oldest first.
	ListByState(ctx context.Context, state domain.TaskState) ([]*domain.TaskRecord, error)

	// CountActiveForConversation returns how many tasks for the key are in
	// an active state (Queued, Running, Retrying).
	CountActiveForConversation(ctx context.Context, key uuid.UUID) (int, error)

	// CountByState returns the number of tasks in each state.
	CountByState(ctx context.Context) (map[domain.TaskState]int, error)

	// PruneTerminal removes terminal task records completed before the
	// retention window and returns how many were removed.
	PruneTerminal(ctx context.Context, olderThan time.Duration) (int, error)
}

// Metrics receives engine observations. Implementations must be safe for
// concurrent use; a nil Metrics is replaced with a no-op.
type Metrics interface {
	TaskStateChanged(state domain.TaskState)
	TaskRetried(queue domain.QueueName)
	TaskTimedOut(queue domain.QueueName)
	LockContended(queue domain.QueueName)
}

type noopMetrics struct{}

func (noopMetrics) TaskStateChanged(domain.TaskState) {}
func (noopMetrics) TaskRetried(domain.QueueName)      {}
func (noopMetrics) TaskTimedOut(domain.QueueName)     {}
func (noopMetrics) LockContended(domain.QueueName)    {}
