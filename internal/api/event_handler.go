package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/engageai/engage-api/internal/api/shared"
	"github.com/engageai/engage-api/internal/domain"
	"github.com/engageai/engage-api/internal/events"
	"github.com/engageai/engage-api/internal/orchestrator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SubmitEventRequest represents the request body for submitting an event.
type SubmitEventRequest struct {
	Kind           string          `json:"kind"            validate:"required"`
	CustomerID     string          `json:"customer_id"     validate:"omitempty,uuid"`
	BusinessID     string          `json:"business_id"     validate:"omitempty,uuid"`
	ConversationID string          `json:"conversation_id" validate:"omitempty,uuid"`
	Branch         string          `json:"branch"          validate:"omitempty,oneof=manipulator convincer"`
	Message        string          `json:"message"`
	Metadata       json.RawMessage `json:"metadata"`
}

// SubmitEventResponse is returned with 202 Accepted; processing happens
// asynchronously and the task ID is the handle for polling.
type SubmitEventResponse struct {
	TaskID    string    `json:"task_id"`
	Queue     string    `json:"queue"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// EventHandler handles event submission HTTP requests.
type EventHandler struct {
	engine    *orchestrator.Orchestrator
	validator *validator.Validate
	logger    *slog.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(engine *orchestrator.Orchestrator, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		engine:    engine,
		validator: validator.New(),
		logger:    logger.With("component", "event_handler"),
	}
}

// SubmitEvent handles POST /api/events requests.
func (h *EventHandler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req SubmitEventRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	ev := events.NewConversationEvent(events.EventKind(req.Kind))
	ev.CustomerID = parseOptionalUUID(req.CustomerID)
	ev.BusinessID = parseOptionalUUID(req.BusinessID)
	ev.ConversationID = parseOptionalUUID(req.ConversationID)
	ev.Branch = domain.Branch(req.Branch)
	ev.Message = req.Message
	ev.Metadata = req.Metadata

	taskID, err := h.engine.Submit(r.Context(), ev)
	if err != nil {
		status := MapErrorToStatusCode(err)
		shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err)
		return
	}

	rec, err := h.engine.GetStatus(r.Context(), taskID)
	if err != nil {
		// The task exists; surface the ID even if the read-back raced
		// with pruning.
		h.logger.Warn("failed to read back submitted task",
			"task_id", taskID,
			"error", err)
		shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitEventResponse{
			TaskID: taskID.String(),
			State:  string(domain.TaskStateQueued),
		})
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitEventResponse{
		TaskID:    rec.ID.String(),
		Queue:     string(rec.Queue),
		State:     string(rec.State),
		CreatedAt: rec.CreatedAt,
	})
}

// parseOptionalUUID returns uuid.Nil for empty or malformed input. Format
// errors are caught by request validation before this runs.
func parseOptionalUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
