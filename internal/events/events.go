package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/google/uuid"
)

// EventKind identifies the family of work a conversation event requests.
type EventKind string

// Event kinds, mapped to queue lanes by the orchestrator.
const (
	// KindCustomerMessage is a customer-initiated message (Convincer entry
	// point or a turn in an existing conversation). Conversations lane.
	KindCustomerMessage EventKind = "customer_message"

	// KindAdInteraction is an ad click/like/comment (Manipulator entry
	// point). Conversations lane.
	KindAdInteraction EventKind = "ad_interaction"

	// KindWebhookReplay is a platform webhook already parsed and verified
	// upstream. Webhooks lane.
	KindWebhookReplay EventKind = "webhook_replay"

	// KindAnalyticsReport is a reporting/cleanup request with no
	// conversation affinity. Analytics lane.
	KindAnalyticsReport EventKind = "analytics_report"
)

// ConversationEvent is one unit of inbound work. It doubles as the task
// payload: the orchestrator stamps ConversationID/Branch/Phase before
// marshalling it into the task record, so the executor sees the resolved
// conversation context.
type ConversationEvent struct {
	ID             uuid.UUID       `json:"id"`
	Kind           EventKind       `json:"kind"`
	CustomerID     uuid.UUID       `json:"customer_id,omitempty"`
	BusinessID     uuid.UUID       `json:"business_id,omitempty"`
	ConversationID uuid.UUID       `json:"conversation_id,omitempty"`
	Branch         domain.Branch   `json:"branch,omitempty"`
	Phase          domain.Phase    `json:"phase,omitempty"`
	Message        string          `json:"message,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewConversationEvent creates an event with a fresh ID and timestamp.
func NewConversationEvent(kind EventKind) *ConversationEvent {
	return &ConversationEvent{
		ID:        uuid.New(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// Queue returns the priority lane for the event's kind.
func (e *ConversationEvent) Queue() domain.QueueName {
	switch e.Kind {
	case KindCustomerMessage, KindAdInteraction:
		return domain.QueueConversations
	case KindWebhookReplay:
		return domain.QueueWebhooks
	default:
		return domain.QueueAnalytics
	}
}

// IsValidKind checks if the given kind is a known EventKind.
func IsValidKind(kind EventKind) bool {
	switch kind {
	case KindCustomerMessage, KindAdInteraction, KindWebhookReplay, KindAnalyticsReport:
		return true
	default:
		return false
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *ConversationEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This lets ingestion layers publish events without direct knowledge of the
// orchestrator.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *ConversationEvent) error
}
