package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/SteveJiangWorkPlace/otium/internal/api/shared"
	"github.com/SteveJiangWorkPlace/otium/internal/domain"
	"github.com/SteveJiangWorkPlace/otium/internal/task"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// List pagination bounds.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	taskService *task.Service
	validator   *validator.Validate
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(taskService *task.Service) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		validator:   validator.New(),
	}
}

// CreateTask handles POST /api/tasks requests. Processing is asynchronous:
// the response is 202 Accepted with the pending task.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	created, err := h.taskService.CreateTask(
		r.Context(),
		ownerID,
		req.TaskType,
		req.Payload,
		req.EstimatedSeconds,
	)
	if err != nil {
		slog.Error("failed to create task", "error", err, "owner_id", ownerID)
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(created))
}

// GetTask handles GET /api/tasks/{id} requests. Tasks belonging to other
// owners are reported as not found.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	found, err := h.taskService.GetTask(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if found.OwnerID != ownerID {
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(found))
}

// ListTasks handles GET /api/tasks requests. Results are the caller's own
// tasks, newest first, optionally narrowed by the type and status query
// parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	status := domain.TaskStatus(r.URL.Query().Get("status"))
	if status != "" && !isKnownStatus(status) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	tasks, err := h.taskService.GetUserTasks(
		r.Context(),
		ownerID,
		r.URL.Query().Get("type"),
		status,
		limit,
	)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	response := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		response.Tasks = append(response.Tasks, taskToResponse(t))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

func isKnownStatus(status domain.TaskStatus) bool {
	switch status {
	case domain.TaskStatusPending,
		domain.TaskStatusProcessing,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed:
		return true
	}
	return false
}
