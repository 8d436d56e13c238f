package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/domain"
	"github.com/SteveJiangWorkPlace/otium/internal/store"
	"github.com/google/uuid"
)

// Common task engine errors
var (
	// ErrTaskTimedOut signals that a claimed task exceeded its processing
	// timeout and was returned to the pending queue instead of executed.
	ErrTaskTimedOut = errors.New("task processing timed out and was requeued")

	// ErrHandlerNotRegistered is raised when no handler exists for a task's
	// type. Its message deliberately classifies as permanent.
	ErrHandlerNotRegistered = errors.New("unsupported task type: no handler registered")
)

// ServiceConfig holds the tunable parameters of the task service.
type ServiceConfig struct {
	// MaxAttempts is the attempt ceiling applied to newly created tasks.
	MaxAttempts int

	// RetryPolicy governs backoff for failed attempts.
	RetryPolicy RetryPolicy
}

// DefaultServiceConfig returns a ServiceConfig with the standard ceiling and
// backoff policy.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxAttempts: domain.DefaultMaxAttempts,
		RetryPolicy: DefaultRetryPolicy(),
	}
}

// Service orchestrates the task lifecycle: creation, queries, the
// pending → processing → {completed|failed} state machine, retry decisions,
// and the stuck/old task cleanup sweeps. All persistence goes through the
// TaskStore; the store is the single source of truth.
type Service struct {
	store    store.TaskStore
	registry *Registry
	config   ServiceConfig
	logger   *slog.Logger
}

// NewService creates a task Service. A zero-valued config field falls back to
// its default.
func NewService(
	taskStore store.TaskStore,
	registry *Registry,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = domain.DefaultMaxAttempts
	}
	if config.RetryPolicy.BaseDelay == 0 {
		config.RetryPolicy = DefaultRetryPolicy()
	}

	return &Service{
		store:    taskStore,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// CreateTask persists a new pending task for the given owner. The payload is
// opaque to the engine and handed verbatim to the handler on execution.
func (s *Service) CreateTask(
	ctx context.Context,
	ownerID uuid.UUID,
	taskType string,
	requestPayload json.RawMessage,
	estimatedSeconds int,
) (*domain.Task, error) {
	task, err := domain.NewTask(ownerID, taskType, requestPayload, estimatedSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	task.MaxAttempts = s.config.MaxAttempts

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"task_type", task.TaskType,
		"owner_id", task.OwnerID)

	return task, nil
}

// GetTask retrieves a task by ID. Returns store.ErrTaskNotFound if absent.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.store.GetTask(ctx, id)
}

// GetUserTasks returns the owner's tasks, newest first, optionally narrowed
// by type and status. Empty taskType or status means no filter.
func (s *Service) GetUserTasks(
	ctx context.Context,
	ownerID uuid.UUID,
	taskType string,
	status domain.TaskStatus,
	limit int,
) ([]*domain.Task, error) {
	filter := store.TaskFilter{
		OwnerID:     &ownerID,
		NewestFirst: true,
		Limit:       limit,
	}
	if taskType != "" {
		filter.TaskType = &taskType
	}
	if status != "" {
		filter.Status = &status
	}

	return s.store.ListTasks(ctx, filter)
}

// GetPendingTasks returns up to limit pending tasks, oldest created first.
// FIFO ordering by creation time is the engine's fairness guarantee: retried
// tasks keep their original created_at and never jump the queue.
func (s *Service) GetPendingTasks(ctx context.Context, limit int) ([]*domain.Task, error) {
	status := domain.TaskStatusPending
	return s.store.ListTasks(ctx, store.TaskFilter{
		Status: &status,
		Limit:  limit,
	})
}

// UpdateStatus is the central mutation primitive of the state machine.
// It sets started_at on the first transition into processing, completed_at on
// the first transition into a terminal status, conditionally increments the
// attempt counter, and always refreshes updated_at.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *Service) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	result json.RawMessage,
	errorMessage string,
	incrementAttempts bool,
) (*domain.Task, error) {
	current, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	params := store.UpdateTaskParams{
		Status:            &status,
		ResultPayload:     result,
		IncrementAttempts: incrementAttempts,
	}
	if errorMessage != "" {
		params.ErrorMessage = &errorMessage
	}

	now := time.Now().UTC()
	if status == domain.TaskStatusProcessing && current.StartedAt == nil {
		params.StartedAt = &now
	}
	if (status == domain.TaskStatusCompleted || status == domain.TaskStatusFailed) &&
		current.CompletedAt == nil {
		params.CompletedAt = &now
	}

	return s.store.UpdateTask(ctx, id, params)
}

// ProcessTask executes one attempt of the given task. Called by the worker
// loop once per attempt.
//
// If the task is already in processing and past its type's timeout it is
// returned to the pending queue and ErrTaskTimedOut is raised, letting a task
// abandoned by a dead worker recover. Otherwise the task transitions to
// processing, its handler runs, and the outcome is persisted: completed with
// the handler's result on success, or pending-with-backoff / failed on error
// per the classification and retry policy. In the failure paths the handler's
// original error is returned after state is persisted, so the caller can log
// it without re-deriving the decision.
func (s *Service) ProcessTask(ctx context.Context, t *domain.Task) (json.RawMessage, error) {
	log := s.logger.With("task_id", t.ID, "task_type", t.TaskType)

	if t.Status == domain.TaskStatusProcessing {
		timeout := domain.ProcessingTimeout(t.TaskType)
		if t.StartedAt != nil && time.Since(*t.StartedAt) > timeout {
			msg := fmt.Sprintf("processing timed out after %s, requeued", timeout)
			if _, err := s.UpdateStatus(ctx, t.ID, domain.TaskStatusPending, nil, msg, false); err != nil {
				log.Error("failed to requeue timed out task", "error", err)
			} else {
				log.Warn("requeued timed out task", "timeout", timeout)
			}
			return nil, fmt.Errorf("%w: task %s exceeded %s", ErrTaskTimedOut, t.ID, timeout)
		}
	}

	updated, err := s.UpdateStatus(ctx, t.ID, domain.TaskStatusProcessing, nil, "", false)
	if err != nil {
		return nil, fmt.Errorf("failed to mark task as processing: %w", err)
	}
	t = updated

	var result json.RawMessage
	var execErr error

	if handler, ok := s.registry.Resolve(t.TaskType); ok {
		log.Info("processing task", "attempt", t.Attempts+1, "max_attempts", t.MaxAttempts)
		result, execErr = handler(ctx, t.RequestPayload, NewProgress(t.ID, s.store, s.logger))
	} else {
		execErr = fmt.Errorf("%w: %q", ErrHandlerNotRegistered, t.TaskType)
	}

	if execErr == nil {
		// Success counts its attempt too: attempts tracks executions, not
		// just failures.
		if _, err := s.UpdateStatus(ctx, t.ID, domain.TaskStatusCompleted, result, "", true); err != nil {
			// The work itself succeeded; a vanished task is a no-op, anything
			// else fails this operation.
			if store.IsNotFoundError(err) {
				log.Warn("task vanished before completion could be recorded")
				return result, nil
			}
			return nil, fmt.Errorf("failed to mark task as completed: %w", err)
		}
		log.Info("task completed", "attempts", t.Attempts+1)
		return result, nil
	}

	s.recordFailure(ctx, log, t, execErr)
	return nil, execErr
}

// recordFailure classifies a handler error, applies the retry policy, and
// persists the resulting transition. Persistence failures here are logged and
// absorbed; the caller still receives the original handler error.
func (s *Service) recordFailure(ctx context.Context, log *slog.Logger, t *domain.Task, execErr error) {
	class := Classify(execErr.Error())
	retry, delay := s.config.RetryPolicy.ShouldRetry(t, class)

	if retry {
		eta := time.Now().UTC().Add(delay)
		msg := fmt.Sprintf("%s | retrying in %ds (ETA %s)",
			execErr.Error(), int(delay.Seconds()), eta.Format("15:04:05 MST"))

		if _, err := s.UpdateStatus(ctx, t.ID, domain.TaskStatusPending, nil, msg, true); err != nil {
			log.Error("failed to requeue task for retry", "error", err)
			return
		}
		log.Warn("task failed, scheduled for retry",
			"error_class", class,
			"attempt", t.Attempts+1,
			"retry_delay", delay)
		return
	}

	var msg string
	if class == ErrorClassPermanent {
		msg = fmt.Sprintf("permanent error: %s", execErr.Error())
	} else {
		msg = fmt.Sprintf("failed after %d attempts: %s", t.Attempts+1, execErr.Error())
	}

	if _, err := s.UpdateStatus(ctx, t.ID, domain.TaskStatusFailed, nil, msg, true); err != nil {
		log.Error("failed to mark task as failed", "error", err)
		return
	}
	log.Error("task failed permanently",
		"error_class", class,
		"attempts", t.Attempts+1,
		"error", execErr)
}

// CleanupStuckTasks force-fails tasks stuck in processing longer than the
// given timeout, measured from started_at. Returns the number of tasks
// transitioned. Tasks already recovered by the opportunistic timeout check in
// ProcessTask are not affected.
func (s *Service) CleanupStuckTasks(ctx context.Context, timeout time.Duration) (int64, error) {
	status := domain.TaskStatusProcessing
	cutoff := time.Now().UTC().Add(-timeout)

	stuck, err := s.store.ListTasks(ctx, store.TaskFilter{
		Status:        &status,
		StartedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query stuck tasks: %w", err)
	}

	var cleaned int64
	for _, t := range stuck {
		msg := fmt.Sprintf("processing timed out after %s, marked failed by cleanup", timeout)
		if _, err := s.UpdateStatus(ctx, t.ID, domain.TaskStatusFailed, nil, msg, false); err != nil {
			s.logger.Error("failed to fail stuck task",
				"task_id", t.ID,
				"error", err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		s.logger.Info("cleaned up stuck tasks", "count", cleaned, "timeout", timeout)
	}

	return cleaned, nil
}

// CleanupOldTasks deletes terminal tasks created before the retention window.
// Pending and processing tasks are never deleted regardless of age. Returns
// the number of tasks removed.
func (s *Service) CleanupOldTasks(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := s.store.DeleteTasks(ctx, store.DeleteTaskFilter{
		Statuses:      []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed},
		CreatedBefore: time.Now().UTC().Add(-retention),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old tasks: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("cleaned up old tasks", "count", deleted, "retention", retention)
	}

	return deleted, nil
}
