package api

import (
	"encoding/json"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/domain"
)

// CreateTaskRequest is the request body for enqueueing a new task.
type CreateTaskRequest struct {
	TaskType         string          `json:"task_type"         validate:"required,min=1"`
	Payload          json.RawMessage `json:"payload"`
	EstimatedSeconds int             `json:"estimated_seconds" validate:"gte=0"`
}

// TaskProgress groups the progress fields of a task response.
type TaskProgress struct {
	Percentage  int    `json:"percentage"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Description string `json:"description,omitempty"`
}

// TaskResponse is the response representation of a task.
type TaskResponse struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	TaskType         string          `json:"task_type"`
	Status           string          `json:"status"`
	ResultPayload    json.RawMessage `json:"result_payload,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"max_attempts"`
	EstimatedSeconds int             `json:"estimated_seconds"`
	Progress         TaskProgress    `json:"progress"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TaskListResponse wraps a page of tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// taskToResponse converts a domain.Task to its response representation.
func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:               task.ID.String(),
		OwnerID:          task.OwnerID.String(),
		TaskType:         task.TaskType,
		Status:           string(task.Status),
		ResultPayload:    task.ResultPayload,
		ErrorMessage:     task.ErrorMessage,
		Attempts:         task.Attempts,
		MaxAttempts:      task.MaxAttempts,
		EstimatedSeconds: task.EstimatedSeconds,
		Progress: TaskProgress{
			Percentage:  task.ProgressPercentage,
			CurrentStep: task.CurrentStep,
			TotalSteps:  task.TotalSteps,
			Description: task.StepDescription,
		},
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}
