package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/platform/logger"
	"github.com/engageai/engage-api/internal/store"
	"github.com/google/uuid"
)

// ConversationStore implements the store.ConversationStore interface using
// PostgreSQL.
type ConversationStore struct {
	db store.DBTX
}

var _ store.ConversationStore = (*ConversationStore)(nil)

// NewConversationStore creates a new ConversationStore.
func NewConversationStore(db store.DBTX) *ConversationStore {
	return &ConversationStore{db: db}
}

// Create saves a new conversation to the store.
func (s *ConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	log := logger.FromContext(ctx)

	if err := conv.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (id, customer_id, business_id, branch, phase,
			message_count, consecutive_disengaged, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.CustomerID,
		conv.BusinessID,
		conv.Branch,
		conv.Phase,
		conv.MessageCount,
		conv.ConsecutiveDisengaged,
		conv.CreatedAt,
		conv.LastActivityAt,
	)
	if err != nil {
		log.Error("failed to create conversation",
			"conversation_id", conv.ID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetByID retrieves a conversation by its unique ID.
func (s *ConversationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, customer_id, business_id, branch, phase, message_count,
			consecutive_disengaged, created_at, last_activity_at
		FROM conversations
		WHERE id = $1
	`

	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.CustomerID,
		&conv.BusinessID,
		&conv.Branch,
		&conv.Phase,
		&conv.MessageCount,
		&conv.ConsecutiveDisengaged,
		&conv.CreatedAt,
		&conv.LastActivityAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrConversationNotFound, id)
		}
		return nil, MapError(err)
	}

	return &conv, nil
}

// Update saves changes to an existing conversation.
func (s *ConversationStore) Update(ctx context.Context, conv *domain.Conversation) error {
	log := logger.FromContext(ctx)

	if err := conv.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE conversations
		SET branch = $1, phase = $2, message_count = $3,
			consecutive_disengaged = $4, last_activity_at = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		conv.Branch,
		conv.Phase,
		conv.MessageCount,
		conv.ConsecutiveDisengaged,
		conv.LastActivityAt,
		conv.ID,
	)
	if err != nil {
		log.Error("failed to update conversation",
			"conversation_id", conv.ID,
			"error", err)
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrConversationNotFound, conv.ID)
	}

	return nil
}
