package store

import (
	"context"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/google/uuid"
)

// ConversationStore defines the interface for conversation persistence.
// The engine does not own the storage format; in-memory and Postgres
// implementations are provided.
type ConversationStore interface {
	// Create saves a new conversation to the store.
	// Returns validation errors from the domain Conversation if data is invalid.
	Create(ctx context.Context, conv *domain.Conversation) error

	// GetByID retrieves a conversation by its unique ID.
	// Returns ErrConversationNotFound if the conversation does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)

	// Update saves changes to an existing conversation.
	// Returns ErrConversationNotFound if the conversation does not exist.
	// Returns validation errors if the conversation data is invalid.
	Update(ctx context.Context, conv *domain.Conversation) error
}
