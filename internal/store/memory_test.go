package store_test

import (
	"context"
	"testing"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversation(t *testing.T) *domain.Conversation {
	t.Helper()
	conv, err := domain.NewConversation(uuid.New(), uuid.New(), domain.BranchConvincer)
	require.NoError(t, err)
	return conv
}

func TestMemoryConversationStoreCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryConversationStore()
	conv := newConversation(t)

	require.NoError(t, s.Create(ctx, conv))

	got, err := s.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, domain.PhaseWelcome, got.Phase)

	// Duplicate creates are rejected.
	err = s.Create(ctx, conv)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestMemoryConversationStoreGetUnknown(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryConversationStore()

	_, err := s.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
}

func TestMemoryConversationStoreUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryConversationStore()
	conv := newConversation(t)
	require.NoError(t, s.Create(ctx, conv))

	conv.Phase = domain.PhaseNegotiation
	conv.MessageCount = 5
	require.NoError(t, s.Update(ctx, conv))

	got, err := s.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseNegotiation, got.Phase)
	assert.Equal(t, 5, got.MessageCount)
}

func TestMemoryConversationStoreUpdateUnknown(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryConversationStore()
	conv := newConversation(t)

	err := s.Update(context.Background(), conv)
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
}

func TestMemoryConversationStoreSnapshotIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemoryConversationStore()
	conv := newConversation(t)
	require.NoError(t, s.Create(ctx, conv))

	// Mutating the original after Create must not affect the stored copy.
	conv.Phase = domain.PhaseAbandoned

	got, err := s.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseWelcome, got.Phase)

	// Mutating a read result must not affect subsequent reads.
	got.MessageCount = 99

	again, err := s.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.MessageCount)
}

func TestMemoryConversationStoreRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := store.NewMemoryConversationStore()
	conv := newConversation(t)
	conv.Branch = domain.Branch("persuader")

	assert.Error(t, s.Create(context.Background(), conv))
}
