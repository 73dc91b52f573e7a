package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/engageai/engage-api/internal/api/shared"
	"github.com/engageai/engage-api/internal/events"
	"github.com/go-playground/validator/v10"
)

// ReplayWebhookRequest is an already-verified platform webhook. Signature
// checking and payload parsing happen upstream; this endpoint receives the
// normalized form.
type ReplayWebhookRequest struct {
	ConversationID string          `json:"conversation_id" validate:"required,uuid"`
	Message        string          `json:"message"`
	Metadata       json.RawMessage `json:"metadata"`
}

// ReplayWebhookResponse acknowledges an accepted webhook replay. Webhooks
// are fire-and-forget; the event ID is returned for log correlation only.
type ReplayWebhookResponse struct {
	EventID    string    `json:"event_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// WebhookHandler publishes webhook replays onto the event emitter rather
// than calling the engine directly, so additional consumers (audit trails,
// analytics feeds) can register without touching this handler.
type WebhookHandler struct {
	emitter   events.EventEmitter
	validator *validator.Validate
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(emitter events.EventEmitter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		emitter:   emitter,
		validator: validator.New(),
		logger:    logger.With("component", "webhook_handler"),
	}
}

// ReplayWebhook handles POST /api/webhooks requests.
func (h *WebhookHandler) ReplayWebhook(w http.ResponseWriter, r *http.Request) {
	var req ReplayWebhookRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	ev := events.NewConversationEvent(events.KindWebhookReplay)
	ev.ConversationID = parseOptionalUUID(req.ConversationID)
	ev.Message = req.Message
	ev.Metadata = req.Metadata

	if err := h.emitter.EmitEvent(r.Context(), ev); err != nil {
		status := MapErrorToStatusCode(err)
		shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, ReplayWebhookResponse{
		EventID:    ev.ID.String(),
		AcceptedAt: ev.CreatedAt,
	})
}
