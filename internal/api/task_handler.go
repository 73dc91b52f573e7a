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

// TaskResponse represents the response data for a task record.
type TaskResponse struct {
	ID             string     `json:"id"`
	Queue          string     `json:"queue"`
	ConversationID string     `json:"conversation_id,omitempty"`
	State          string     `json:"state"`
	Attempt        int        `json:"attempt"`
	MaxAttempts    int        `json:"max_attempts"`
	Result         string     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// CancelTaskResponse reports whether cancellation took effect.
type CancelTaskResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// TaskHandler handles task status and cancellation HTTP requests.
type TaskHandler struct {
	engine *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(engine *orchestrator.Orchestrator, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		engine: engine,
		logger: logger.With("component", "task_handler"),
	}
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	rec, err := h.engine.GetStatus(r.Context(), taskID)
	if err != nil {
		status := MapErrorToStatusCode(err)
		shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(rec))
}

// CancelTask handles DELETE /api/tasks/{id} requests. A task that already
// started running or finished cannot be cancelled; that case returns 409.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	cancelled, err := h.engine.Cancel(r.Context(), taskID)
	if err != nil {
		status := MapErrorToStatusCode(err)
		shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err)
		return
	}

	status := http.StatusOK
	if !cancelled {
		status = http.StatusConflict
	}

	shared.RespondWithJSON(w, r, status, CancelTaskResponse{
		TaskID:    taskID.String(),
		Cancelled: cancelled,
	})
}

// GetStats handles GET /api/stats requests.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to collect engine stats", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

func taskToResponse(rec *domain.TaskRecord) TaskResponse {
	resp := TaskResponse{
		ID:          rec.ID.String(),
		Queue:       string(rec.Queue),
		State:       string(rec.State),
		Attempt:     rec.Attempt,
		MaxAttempts: rec.MaxAttempts,
		Result:      rec.Result,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.ConversationKey.Valid {
		resp.ConversationID = rec.ConversationKey.UUID.String()
	}
	return resp
}
