package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/domain"
	"github.com/google/uuid"
)

// UpdateTaskParams describes a partial update to a task record. Nil pointer
// fields (and nil raw messages) leave the corresponding column unchanged.
// The store always refreshes updated_at.
type UpdateTaskParams struct {
	Status            *domain.TaskStatus
	ResultPayload     json.RawMessage
	ErrorMessage      *string
	IncrementAttempts bool
	StartedAt         *time.Time
	CompletedAt       *time.Time

	ProgressPercentage *int
	CurrentStep        *int
	TotalSteps         *int
	StepDescription    *string
	StepDetails        json.RawMessage
}

// TaskFilter describes the selection criteria for listing tasks.
// Nil fields are ignored. Results are ordered by created_at ascending
// (FIFO) unless NewestFirst is set.
type TaskFilter struct {
	OwnerID       *uuid.UUID
	TaskType      *string
	Status        *domain.TaskStatus
	StartedBefore *time.Time
	NewestFirst   bool
	Limit         int
}

// DeleteTaskFilter describes which tasks a bulk delete removes. Only tasks
// matching one of Statuses with created_at before CreatedBefore are deleted.
type DeleteTaskFilter struct {
	Statuses      []domain.TaskStatus
	CreatedBefore time.Time
}

// TaskStore defines the interface for persisting tasks. Each call is atomic
// and consistent within itself; the engine does not require multi-statement
// transactions spanning store calls.
type TaskStore interface {
	// CreateTask persists a new task record.
	CreateTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateTask applies a partial update and returns the updated task.
	// Returns ErrTaskNotFound if the task does not exist.
	UpdateTask(ctx context.Context, id uuid.UUID, params UpdateTaskParams) (*domain.Task, error)

	// ListTasks returns tasks matching the filter.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// DeleteTasks removes tasks matching the filter and returns the number deleted.
	DeleteTasks(ctx context.Context, filter DeleteTaskFilter) (int64, error)
}
