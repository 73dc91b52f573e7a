package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of a task
type TaskState string

// Possible task state values
const (
	TaskStateQueued       TaskState = "queued"
	TaskStateRunning      TaskState = "running"
	TaskStateSucceeded    TaskState = "succeeded"
	TaskStateFailed       TaskState = "failed"
	TaskStateRetrying     TaskState = "retrying"
	TaskStateCancelled    TaskState = "cancelled"
	TaskStateDeadLettered TaskState = "dead_lettered"
)

// QueueName identifies the priority lane a task is routed to
type QueueName string

// Queue lanes in descending priority order
const (
	QueueConversations QueueName = "conversations"
	QueueWebhooks      QueueName = "webhooks"
	QueueAnalytics     QueueName = "analytics"
)

// Common validation errors for TaskRecord
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrInvalidTaskState   = errors.New("invalid task state")
	ErrInvalidQueueName   = errors.New("invalid queue name")
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
)

// TaskRecord is the durable representation of one unit of schedulable work.
// State transitions are monotonic: once a record reaches a terminal state
// (Succeeded, Cancelled, DeadLettered) it never re-enters the queue.
type TaskRecord struct {
	ID              uuid.UUID       `json:"id"`
	Queue           QueueName       `json:"queue"`
	ConversationKey uuid.NullUUID   `json:"conversation_key,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	State           TaskState       `json:"state"`
	Attempt         int             `json:"attempt"`
	MaxAttempts     int             `json:"max_attempts"`
	Result          string          `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewTaskRecord creates a TaskRecord in the Queued state.
// Returns an error if validation fails.
func NewTaskRecord(queue QueueName, conversationKey uuid.NullUUID, payload json.RawMessage, maxAttempts int) (*TaskRecord, error) {
	rec := &TaskRecord{
		ID:              uuid.New(),
		Queue:           queue,
		ConversationKey: conversationKey,
		Payload:         payload,
		State:           TaskStateQueued,
		Attempt:         0,
		MaxAttempts:     maxAttempts,
		CreatedAt:       time.Now().UTC(),
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return rec, nil
}

// Validate checks if the TaskRecord has valid data.
func (t *TaskRecord) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if !isValidQueueName(t.Queue) {
		return ErrInvalidQueueName
	}

	if !isValidTaskState(t.State) {
		return ErrInvalidTaskState
	}

	if t.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	return nil
}

// Terminal reports whether the state is final. Terminal records are
// immutable apart from archival.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateCancelled, TaskStateDeadLettered:
		return true
	default:
		return false
	}
}

// Active reports whether the state counts against the per-conversation
// serialization guarantee.
func (s TaskState) Active() bool {
	switch s {
	case TaskStateQueued, TaskStateRunning, TaskStateRetrying:
		return true
	default:
		return false
	}
}

// taskTransitions is the closed transition graph. A transition absent from
// this table is rejected by the store.
var taskTransitions = map[TaskState][]TaskState{
	TaskStateQueued:   {TaskStateRunning, TaskStateCancelled},
	TaskStateRunning:  {TaskStateSucceeded, TaskStateRetrying, TaskStateFailed},
	TaskStateRetrying: {TaskStateRunning, TaskStateCancelled},
	TaskStateFailed:   {TaskStateDeadLettered},
}

// CanTransition reports whether moving from to next is allowed by the
// task lifecycle graph.
func CanTransition(from, next TaskState) bool {
	for _, allowed := range taskTransitions[from] {
		if next == allowed {
			return true
		}
	}
	return false
}

func isValidTaskState(state TaskState) bool {
	switch state {
	case TaskStateQueued, TaskStateRunning, TaskStateSucceeded, TaskStateFailed,
		TaskStateRetrying, TaskStateCancelled, TaskStateDeadLettered:
		return true
	default:
		return false
	}
}

func isValidQueueName(queue QueueName) bool {
	switch queue {
	case QueueConversations, QueueWebhooks, QueueAnalytics:
		return true
	default:
		return false
	}
}

// LaneForQueue maps a queue name to its priority lane index, 0 being the
// highest priority.
func LaneForQueue(queue QueueName) int {
	switch queue {
	case QueueConversations:
		return 0
	case QueueWebhooks:
		return 1
	default:
		return 2
	}
}
