package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/google/uuid"
)

// MemoryConversationStore is an in-memory ConversationStore for
// single-instance deployments and tests. Reads return copies so callers
// cannot mutate stored state without going through Update.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*domain.Conversation
}

var _ ConversationStore = (*MemoryConversationStore)(nil)

// NewMemoryConversationStore creates an empty MemoryConversationStore.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[uuid.UUID]*domain.Conversation),
	}
}

// Create saves a new conversation to the store.
func (s *MemoryConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ID]; ok {
		return fmt.Errorf("%w: conversation %s", ErrDuplicate, conv.ID)
	}

	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

// GetByID retrieves a conversation by its unique ID.
func (s *MemoryConversationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	cp := *conv
	return &cp, nil
}

// Update saves changes to an existing conversation.
func (s *MemoryConversationStore) Update(ctx context.Context, conv *domain.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conv.ID)
	}

	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}
