package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task type constants for the built-in handlers. Any other string is a valid
// task type as long as a handler is registered for it.
const (
	// TaskTypeGeneration represents text generation through the LLM backend.
	TaskTypeGeneration = "generation"

	// TaskTypeDeepResearch represents long-form research work that is allowed
	// an extended processing timeout.
	TaskTypeDeepResearch = "deep_research"

	// TaskTypeLiteratureReview is the second long-running task type.
	TaskTypeLiteratureReview = "literature_review"
)

// Processing timeout classes. A task still in "processing" past its timeout is
// considered stuck and may be requeued or force-failed.
const (
	// DefaultProcessingTimeout applies to ordinary task types.
	DefaultProcessingTimeout = 600 * time.Second

	// LongRunningProcessingTimeout applies to task types flagged as long-running.
	LongRunningProcessingTimeout = 1800 * time.Second
)

// DefaultMaxAttempts is the attempt ceiling applied when a task is created
// without an explicit override.
const DefaultMaxAttempts = 3

// longRunningTaskTypes holds the task types that get the extended timeout.
var longRunningTaskTypes = map[string]bool{
	TaskTypeDeepResearch:     true,
	TaskTypeLiteratureReview: true,
}

// Common validation errors for Task
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyTaskOwnerID   = errors.New("task owner ID cannot be empty")
	ErrEmptyTaskType      = errors.New("task type cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")
	ErrInvalidProgress    = errors.New("progress percentage must be between 0 and 100")
)

// Task represents a persisted unit of asynchronous work. The engine never
// interprets RequestPayload, ResultPayload, or StepDetails; they are opaque
// JSON handed to and produced by the registered handler.
type Task struct {
	ID               uuid.UUID       `json:"id"`
	OwnerID          uuid.UUID       `json:"owner_id"`
	TaskType         string          `json:"task_type"`
	Status           TaskStatus      `json:"status"`
	RequestPayload   json.RawMessage `json:"request_payload"`
	ResultPayload    json.RawMessage `json:"result_payload,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"max_attempts"`
	EstimatedSeconds int             `json:"estimated_seconds,omitempty"`

	// Progress sub-state, mutated through the progress tracker while the task
	// is processing so status-polling readers can observe it.
	ProgressPercentage int             `json:"progress_percentage"`
	CurrentStep        int             `json:"current_step"`
	TotalSteps         int             `json:"total_steps"`
	StepDescription    string          `json:"step_description,omitempty"`
	StepDetails        json.RawMessage `json:"step_details,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTask creates a new pending Task owned by the given principal.
// It generates the task ID, zeroes the attempt counter, applies the default
// attempt ceiling, and stamps the audit timestamps.
// Returns an error if validation fails.
func NewTask(
	ownerID uuid.UUID,
	taskType string,
	requestPayload json.RawMessage,
	estimatedSeconds int,
) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		TaskType:         taskType,
		Status:           TaskStatusPending,
		RequestPayload:   requestPayload,
		Attempts:         0,
		MaxAttempts:      DefaultMaxAttempts,
		EstimatedSeconds: estimatedSeconds,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.OwnerID == uuid.Nil {
		return ErrEmptyTaskOwnerID
	}

	if t.TaskType == "" {
		return ErrEmptyTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	if t.ProgressPercentage < 0 || t.ProgressPercentage > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// IsTerminal reports whether the task has reached a terminal status.
// Terminal tasks are never re-queued by the engine.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// ProcessingTimeout returns the allowed processing duration for a task type.
// Long-running types get the extended timeout; everything else gets the default.
func ProcessingTimeout(taskType string) time.Duration {
	if longRunningTaskTypes[taskType] {
		return LongRunningProcessingTimeout
	}
	return DefaultProcessingTimeout
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}
