package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/domain"
	"github.com/SteveJiangWorkPlace/otium/internal/store"
	"github.com/google/uuid"
)

// MockTaskStore implements store.TaskStore in memory for testing. The
// function fields allow individual operations to be overridden; when nil the
// default map-backed behavior applies.
type MockTaskStore struct {
	mutex sync.RWMutex
	tasks map[uuid.UUID]*domain.Task

	CreateFn func(ctx context.Context, task *domain.Task) error
	GetFn    func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateFn func(ctx context.Context, id uuid.UUID, params store.UpdateTaskParams) (*domain.Task, error)
	ListFn   func(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error)
	DeleteFn func(ctx context.Context, filter store.DeleteTaskFilter) (int64, error)
}

// NewMockTaskStore creates an empty in-memory task store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// CreateTask persists a copy of the task in memory.
func (s *MockTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, task)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}

	copied := *task
	s.tasks[task.ID] = &copied
	return nil
}

// GetTask returns a copy of the stored task.
func (s *MockTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if s.GetFn != nil {
		return s.GetFn(ctx, id)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, store.ErrTaskNotFound
	}

	copied := *task
	return &copied, nil
}

// UpdateTask applies the partial update the way the real store does: nil
// fields leave columns unchanged, updated_at is always refreshed.
func (s *MockTaskStore) UpdateTask(
	ctx context.Context,
	id uuid.UUID,
	params store.UpdateTaskParams,
) (*domain.Task, error) {
	if s.UpdateFn != nil {
		return s.UpdateFn(ctx, id, params)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, store.ErrTaskNotFound
	}

	if params.Status != nil {
		task.Status = *params.Status
	}
	if params.ResultPayload != nil {
		task.ResultPayload = params.ResultPayload
	}
	if params.ErrorMessage != nil {
		task.ErrorMessage = *params.ErrorMessage
	}
	if params.IncrementAttempts {
		task.Attempts++
	}
	if params.StartedAt != nil {
		task.StartedAt = params.StartedAt
	}
	if params.CompletedAt != nil {
		task.CompletedAt = params.CompletedAt
	}
	if params.ProgressPercentage != nil {
		task.ProgressPercentage = *params.ProgressPercentage
	}
	if params.CurrentStep != nil {
		task.CurrentStep = *params.CurrentStep
	}
	if params.TotalSteps != nil {
		task.TotalSteps = *params.TotalSteps
	}
	if params.StepDescription != nil {
		task.StepDescription = *params.StepDescription
	}
	if params.StepDetails != nil {
		task.StepDetails = params.StepDetails
	}
	task.UpdatedAt = time.Now().UTC()

	copied := *task
	return &copied, nil
}

// ListTasks returns copies of tasks matching the filter, ordered by
// created_at (ascending unless NewestFirst).
func (s *MockTaskStore) ListTasks(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	if s.ListFn != nil {
		return s.ListFn(ctx, filter)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var matched []*domain.Task
	for _, task := range s.tasks {
		if filter.OwnerID != nil && task.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.TaskType != nil && task.TaskType != *filter.TaskType {
			continue
		}
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.StartedBefore != nil {
			if task.StartedAt == nil || !task.StartedAt.Before(*filter.StartedBefore) {
				continue
			}
		}

		copied := *task
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		if filter.NewestFirst {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

// DeleteTasks removes tasks matching the filter and returns the count.
func (s *MockTaskStore) DeleteTasks(
	ctx context.Context,
	filter store.DeleteTaskFilter,
) (int64, error) {
	if s.DeleteFn != nil {
		return s.DeleteFn(ctx, filter)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var deleted int64
	for id, task := range s.tasks {
		if !task.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}

		statusMatch := len(filter.Statuses) == 0
		for _, status := range filter.Statuses {
			if task.Status == status {
				statusMatch = true
				break
			}
		}
		if !statusMatch {
			continue
		}

		delete(s.tasks, id)
		deleted++
	}

	return deleted, nil
}
