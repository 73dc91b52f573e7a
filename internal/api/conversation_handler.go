package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/engageai/engage-api/internal/api/shared"
	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ConversationResponse represents the response data for a conversation.
type ConversationResponse struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customer_id"`
	BusinessID     string    `json:"business_id"`
	Branch         string    `json:"branch"`
	Phase          string    `json:"phase"`
	MessageCount   int       `json:"message_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ConversationHandler handles conversation HTTP requests.
type ConversationHandler struct {
	engine *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewConversationHandler creates a new ConversationHandler.
func NewConversationHandler(engine *orchestrator.Orchestrator, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		engine: engine,
		logger: logger.With("component", "conversation_handler"),
	}
}

// GetConversation handles GET /api/conversations/{id} requests.
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid conversation ID")
		return
	}

	conv, err := h.engine.GetConversation(r.Context(), id)
	if err != nil {
		status := MapErrorToStatusCode(err)
		shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, conversationToResponse(conv))
}

func conversationToResponse(conv *domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             conv.ID.String(),
		CustomerID:     conv.CustomerID.String(),
		BusinessID:     conv.BusinessID.String(),
		Branch:         string(conv.Branch),
		Phase:          string(conv.Phase),
		MessageCount:   conv.MessageCount,
		CreatedAt:      conv.CreatedAt,
		LastActivityAt: conv.LastActivityAt,
	}
}
