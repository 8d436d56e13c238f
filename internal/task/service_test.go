package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/domain"
	"github.com/SteveJiangWorkPlace/otium/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServiceFixture(t *testing.T) (*MockTaskStore, *Registry, *Service) {
	t.Helper()

	taskStore := NewMockTaskStore()
	registry := NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(taskStore, registry, DefaultServiceConfig(), logger)
	return taskStore, registry, service
}

// seedTask inserts a task with explicit field overrides applied before
// persistence, bypassing CreateTask for tests that need historic timestamps.
func seedTask(
	t *testing.T,
	taskStore *MockTaskStore,
	taskType string,
	mutate func(*domain.Task),
) *domain.Task {
	t.Helper()

	task, err := domain.NewTask(uuid.New(), taskType, json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, taskStore.CreateTask(context.Background(), task))
	return task
}

func TestServiceCreateTask(t *testing.T) {
	t.Parallel()

	taskStore, _, service := newServiceFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	created, err := service.CreateTask(ctx, ownerID, "short", json.RawMessage(`{"n":1}`), 45)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusPending, created.Status)
	assert.Equal(t, 0, created.Attempts)
	assert.Equal(t, domain.DefaultMaxAttempts, created.MaxAttempts)

	persisted, err := taskStore.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, ownerID, persisted.OwnerID)
	assert.Equal(t, 45, persisted.EstimatedSeconds)
}

func TestServiceGetPendingTasksFIFO(t *testing.T) {
	t.Parallel()

	taskStore, _, service := newServiceFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	oldest := seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.CreatedAt = now.Add(-3 * time.Hour)
	})
	middle := seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.CreatedAt = now.Add(-2 * time.Hour)
	})
	seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.Status = domain.TaskStatusCompleted
		task.CreatedAt = now.Add(-4 * time.Hour)
	})
	newest := seedTask(t, taskStore, "short", nil)

	pending, err := service.GetPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, oldest.ID, pending[0].ID)
	assert.Equal(t, middle.ID, pending[1].ID)
	assert.Equal(t, newest.ID, pending[2].ID)

	limited, err := service.GetPendingTasks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, oldest.ID, limited[0].ID)
}

func TestServiceGetUserTasks(t *testing.T) {
	t.Parallel()

	taskStore, _, service := newServiceFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()

	mine := seedTask(t, taskStore, "generation", func(task *domain.Task) {
		task.OwnerID = ownerID
	})
	seedTask(t, taskStore, "generation", nil) // someone else's

	mineFailed := seedTask(t, taskStore, "deep_research", func(task *domain.Task) {
		task.OwnerID = ownerID
		task.Status = domain.TaskStatusFailed
	})

	all, err := service.GetUserTasks(ctx, ownerID, "", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failedOnly, err := service.GetUserTasks(ctx, ownerID, "", domain.TaskStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, mineFailed.ID, failedOnly[0].ID)

	generationOnly, err := service.GetUserTasks(ctx, ownerID, "generation", "", 10)
	require.NoError(t, err)
	require.Len(t, generationOnly, 1)
	assert.Equal(t, mine.ID, generationOnly[0].ID)
}

func TestServiceUpdateStatus(t *testing.T) {
	t.Parallel()

	t.Run("missing task returns not found", func(t *testing.T) {
		t.Parallel()

		_, _, service := newServiceFixture(t)
		_, err := service.UpdateStatus(context.Background(), uuid.New(),
			domain.TaskStatusProcessing, nil, "", false)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("started_at set only on first processing transition", func(t *testing.T) {
		t.Parallel()

		taskStore, _, service := newServiceFixture(t)
		ctx := context.Background()
		task := seedTask(t, taskStore, "short", nil)

		first, err := service.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, nil, "", false)
		require.NoError(t, err)
		require.NotNil(t, first.StartedAt)

		_, err = service.UpdateStatus(ctx, task.ID, domain.TaskStatusPending, nil, "retrying", true)
		require.NoError(t, err)

		second, err := service.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, nil, "", false)
		require.NoError(t, err)
		require.NotNil(t, second.StartedAt)
		assert.Equal(t, *first.StartedAt, *second.StartedAt)
	})

	t.Run("completed_at set on terminal transition", func(t *testing.T) {
		t.Parallel()

		taskStore, _, service := newServiceFixture(t)
		ctx := context.Background()
		task := seedTask(t, taskStore, "short", nil)

		done, err := service.UpdateStatus(ctx, task.ID, domain.TaskStatusCompleted,
			json.RawMessage(`{"ok":true}`), "", true)
		require.NoError(t, err)
		require.NotNil(t, done.CompletedAt)
		assert.Equal(t, 1, done.Attempts)
		assert.JSONEq(t, `{"ok":true}`, string(done.ResultPayload))
	})
}

func TestServiceProcessTask(t *testing.T) {
	t.Parallel()

	t.Run("transient failure requeues with delay annotation", func(t *testing.T) {
		t.Parallel()

		// End-to-end scenario: handler raises a connection error on the
		// first attempt.
		taskStore, registry, service := newServiceFixture(t)
		ctx := context.Background()

		require.NoError(t, registry.Register("short", func(ctx context.Context, payload json.RawMessage, progress *Progress) (json.RawMessage, error) {
			return nil, errors.New("connection reset")
		}))

		task := seedTask(t, taskStore, "short", nil)
		originalCreatedAt := task.CreatedAt

		_, err := service.ProcessTask(ctx, task)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")

		got, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		assert.Equal(t, domain.TaskStatusPending, got.Status)
		assert.Equal(t, 1, got.Attempts)
		assert.Contains(t, got.ErrorMessage, "connection reset")
		assert.Contains(t, got.ErrorMessage, "retrying in")
		assert.Contains(t, got.ErrorMessage, "ETA")
		// Retry fairness: requeue must not touch created_at.
		assert.Equal(t, originalCreatedAt, got.CreatedAt)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("permanent failure fails immediately", func(t *testing.T) {
		t.Parallel()

		taskStore, registry, service := newServiceFixture(t)
		ctx := context.Background()

		require.NoError(t, registry.Register("short", func(ctx context.Context, payload json.RawMessage, progress *Progress) (json.RawMessage, error) {
			return nil, errors.New("invalid api key")
		}))

		task := seedTask(t, taskStore, "short", nil)

		_, err := service.ProcessTask(ctx, task)
		require.Error(t, err)

		got, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		assert.Equal(t, domain.TaskStatusFailed, got.Status)
		assert.Equal(t, 1, got.Attempts)
		assert.Contains(t, got.ErrorMessage, "permanent error")
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("success after one transient failure", func(t *testing.T) {
		t.Parallel()

		taskStore, registry, service := newServiceFixture(t)
		ctx := context.Background()

		calls := 0
		require.NoError(t, registry.Register("short", func(ctx context.Context, payload json.RawMessage, progress *Progress) (json.RawMessage, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("service unavailable")
			}
			return json.RawMessage(`{"text":"done"}`), nil
		}))

		task := seedTask(t, taskStore, "short", nil)

		_, err := service.ProcessTask(ctx, task)
		require.Error(t, err)

		afterFirst, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		require.NotNil(t, afterFirst.StartedAt)
		firstStart := *afterFirst.StartedAt

		result, err := service.ProcessTask(ctx, afterFirst)
		require.NoError(t, err)
		assert.JSONEq(t, `{"text":"done"}`, string(result))

		got, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		assert.Equal(t, domain.TaskStatusCompleted, got.Status)
		assert.Equal(t, 2, got.Attempts)
		assert.JSONEq(t, `{"text":"done"}`, string(got.ResultPayload))
		require.NotNil(t, got.CompletedAt)
		require.NotNil(t, got.StartedAt)
		// started_at belongs to the first attempt and is never overwritten.
		assert.Equal(t, firstStart, *got.StartedAt)
	})

	t.Run("exhausts attempts on repeated transient failures", func(t *testing.T) {
		t.Parallel()

		taskStore, registry, service := newServiceFixture(t)
		ctx := context.Background()

		require.NoError(t, registry.Register("short", func(ctx context.Context, payload json.RawMessage, progress *Progress) (json.RawMessage, error) {
			return nil, errors.New("network unreachable")
		}))

		task := seedTask(t, taskStore, "short", nil)

		for i := 0; i < domain.DefaultMaxAttempts; i++ {
			current, getErr := taskStore.GetTask(ctx, task.ID)
			require.NoError(t, getErr)
			_, err := service.ProcessTask(ctx, current)
			require.Error(t, err)
		}

		got, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		assert.Equal(t, domain.TaskStatusFailed, got.Status)
		assert.Equal(t, domain.DefaultMaxAttempts, got.Attempts)
		assert.Contains(t, got.ErrorMessage, "failed after 3 attempts")
	})

	t.Run("unregistered task type fails permanently", func(t *testing.T) {
		t.Parallel()

		taskStore, _, service := newServiceFixture(t)
		ctx := context.Background()

		task := seedTask(t, taskStore, "nobody_home", nil)

		_, err := service.ProcessTask(ctx, task)
		require.ErrorIs(t, err, ErrHandlerNotRegistered)

		got, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		// "unsupported" is a permanent marker, so no retry happens.
		assert.Equal(t, domain.TaskStatusFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, "permanent error")
	})

	t.Run("stale processing task is requeued with TimedOut signal", func(t *testing.T) {
		t.Parallel()

		taskStore, registry, service := newServiceFixture(t)
		ctx := context.Background()

		executed := false
		require.NoError(t, registry.Register("short", func(ctx context.Context, payload json.RawMessage, progress *Progress) (json.RawMessage, error) {
			executed = true
			return nil, nil
		}))

		staleStart := time.Now().UTC().Add(-11 * time.Minute)
		task := seedTask(t, taskStore, "short", func(task *domain.Task) {
			task.Status = domain.TaskStatusProcessing
			task.StartedAt = &staleStart
		})

		_, err := service.ProcessTask(ctx, task)
		require.ErrorIs(t, err, ErrTaskTimedOut)
		assert.False(t, executed, "handler must not run for a timed out claim")

		got, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		assert.Equal(t, domain.TaskStatusPending, got.Status)
		assert.Contains(t, got.ErrorMessage, "timed out")
		assert.Contains(t, got.ErrorMessage, "requeued")
	})

	t.Run("long-running type gets extended timeout", func(t *testing.T) {
		t.Parallel()

		taskStore, registry, service := newServiceFixture(t)
		ctx := context.Background()

		require.NoError(t, registry.Register(domain.TaskTypeDeepResearch, func(ctx context.Context, payload json.RawMessage, progress *Progress) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		}))

		// 11 minutes in processing would time out a short task, but is
		// still within the 1800s allowance for deep research.
		recentEnough := time.Now().UTC().Add(-11 * time.Minute)
		task := seedTask(t, taskStore, domain.TaskTypeDeepResearch, func(task *domain.Task) {
			task.Status = domain.TaskStatusProcessing
			task.StartedAt = &recentEnough
		})

		_, err := service.ProcessTask(ctx, task)
		require.NoError(t, err)

		got, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	})

	t.Run("handler receives payload and progress tracker", func(t *testing.T) {
		t.Parallel()

		taskStore, registry, service := newServiceFixture(t)
		ctx := context.Background()

		require.NoError(t, registry.Register("short", func(ctx context.Context, payload json.RawMessage, progress *Progress) (json.RawMessage, error) {
			var input struct {
				Prompt string `json:"prompt"`
			}
			if err := json.Unmarshal(payload, &input); err != nil {
				return nil, err
			}
			progress.SetTotalSteps(ctx, 2)
			progress.IncrementStep(ctx, "working", nil)
			return json.RawMessage(`{"echo":"` + input.Prompt + `"}`), nil
		}))

		task := seedTask(t, taskStore, "short", func(task *domain.Task) {
			task.RequestPayload = json.RawMessage(`{"prompt":"hi"}`)
		})

		result, err := service.ProcessTask(ctx, task)
		require.NoError(t, err)
		assert.JSONEq(t, `{"echo":"hi"}`, string(result))

		got, getErr := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, getErr)
		assert.Equal(t, 1, got.CurrentStep)
		assert.Equal(t, 2, got.TotalSteps)
		assert.Equal(t, "working", got.StepDescription)
	})
}

func TestServiceCleanupStuckTasks(t *testing.T) {
	t.Parallel()

	taskStore, _, service := newServiceFixture(t)
	ctx := context.Background()

	staleStart := time.Now().UTC().Add(-45 * time.Minute)
	stuck := seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.Status = domain.TaskStatusProcessing
		task.StartedAt = &staleStart
	})

	recentStart := time.Now().UTC().Add(-5 * time.Minute)
	healthy := seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.Status = domain.TaskStatusProcessing
		task.StartedAt = &recentStart
	})

	count, err := service.CleanupStuckTasks(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	failedTask, err := taskStore.GetTask(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, failedTask.Status)
	assert.Contains(t, failedTask.ErrorMessage, "timed out")
	require.NotNil(t, failedTask.CompletedAt)

	untouched, err := taskStore.GetTask(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, untouched.Status)
}

func TestServiceCleanupOldTasks(t *testing.T) {
	t.Parallel()

	taskStore, _, service := newServiceFixture(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)

	oldCompleted := seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.Status = domain.TaskStatusCompleted
		task.CreatedAt = old
	})
	oldFailed := seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.Status = domain.TaskStatusFailed
		task.CreatedAt = old
	})
	oldPending := seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.CreatedAt = old
	})
	recentCompleted := seedTask(t, taskStore, "short", func(task *domain.Task) {
		task.Status = domain.TaskStatusCompleted
	})

	count, err := service.CleanupOldTasks(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = taskStore.GetTask(ctx, oldCompleted.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, err = taskStore.GetTask(ctx, oldFailed.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	// Non-terminal tasks survive regardless of age.
	_, err = taskStore.GetTask(ctx, oldPending.ID)
	assert.NoError(t, err)
	_, err = taskStore.GetTask(ctx, recentCompleted.ID)
	assert.NoError(t, err)
}
