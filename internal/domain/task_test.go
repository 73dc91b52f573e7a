package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskRecord(t *testing.T) {
	t.Parallel()

	t.Run("creates queued record with defaults", func(t *testing.T) {
		t.Parallel()
		key := uuid.NullUUID{UUID: uuid.New(), Valid: true}
		payload := json.RawMessage(`{"message":"hello"}`)

		rec, err := domain.NewTaskRecord(domain.QueueConversations, key, payload, 3)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, rec.ID)
		assert.Equal(t, domain.TaskStateQueued, rec.State)
		assert.Equal(t, 0, rec.Attempt)
		assert.Equal(t, 3, rec.MaxAttempts)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.Nil(t, rec.StartedAt)
		assert.Nil(t, rec.CompletedAt)
	})

	t.Run("rejects unknown queue", func(t *testing.T) {
		t.Parallel()
		_, err := domain.NewTaskRecord("priority", uuid.NullUUID{}, nil, 3)
		assert.ErrorIs(t, err, domain.ErrInvalidQueueName)
	})

	t.Run("rejects zero max attempts", func(t *testing.T) {
		t.Parallel()
		_, err := domain.NewTaskRecord(domain.QueueAnalytics, uuid.NullUUID{}, nil, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidMaxAttempts)
	})
}

func TestTaskStateTerminal(t *testing.T) {
	t.Parallel()

	terminal := []domain.TaskState{
		domain.TaskStateSucceeded,
		domain.TaskStateCancelled,
		domain.TaskStateDeadLettered,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "state %s should be terminal", s)
		assert.False(t, s.Active(), "state %s should not be active", s)
	}

	active := []domain.TaskState{
		domain.TaskStateQueued,
		domain.TaskStateRunning,
		domain.TaskStateRetrying,
	}
	for _, s := range active {
		assert.False(t, s.Terminal(), "state %s should not be terminal", s)
		assert.True(t, s.Active(), "state %s should be active", s)
	}

	assert.False(t, domain.TaskStateFailed.Terminal())
	assert.False(t, domain.TaskStateFailed.Active())
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct {
		from, to domain.TaskState
	}{
		{domain.TaskStateQueued, domain.TaskStateRunning},
		{domain.TaskStateQueued, domain.TaskStateCancelled},
		{domain.TaskStateRunning, domain.TaskStateSucceeded},
		{domain.TaskStateRunning, domain.TaskStateRetrying},
		{domain.TaskStateRunning, domain.TaskStateFailed},
		{domain.TaskStateRetrying, domain.TaskStateRunning},
		{domain.TaskStateRetrying, domain.TaskStateCancelled},
		{domain.TaskStateFailed, domain.TaskStateDeadLettered},
	}
	for _, tc := range allowed {
		assert.True(t, domain.CanTransition(tc.from, tc.to),
			"%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to domain.TaskState
	}{
		{domain.TaskStateQueued, domain.TaskStateSucceeded},
		{domain.TaskStateRunning, domain.TaskStateCancelled},
		{domain.TaskStateRunning, domain.TaskStateQueued},
		{domain.TaskStateSucceeded, domain.TaskStateRunning},
		{domain.TaskStateCancelled, domain.TaskStateRunning},
		{domain.TaskStateDeadLettered, domain.TaskStateQueued},
		{domain.TaskStateFailed, domain.TaskStateRunning},
	}
	for _, tc := range denied {
		assert.False(t, domain.CanTransition(tc.from, tc.to),
			"%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestLaneForQueue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, domain.LaneForQueue(domain.QueueConversations))
	assert.Equal(t, 1, domain.LaneForQueue(domain.QueueWebhooks))
	assert.Equal(t, 2, domain.LaneForQueue(domain.QueueAnalytics))
}
