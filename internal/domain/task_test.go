package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	t.Run("valid task", func(t *testing.T) {
		t.Parallel()

		ownerID := uuid.New()
		payload := json.RawMessage(`{"prompt":"hello"}`)

		task, err := NewTask(ownerID, TaskTypeGeneration, payload, 30)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, task.ID)
		assert.Equal(t, ownerID, task.OwnerID)
		assert.Equal(t, TaskStatusPending, task.Status)
		assert.Equal(t, 0, task.Attempts)
		assert.Equal(t, DefaultMaxAttempts, task.MaxAttempts)
		assert.Equal(t, 30, task.EstimatedSeconds)
		assert.Nil(t, task.StartedAt)
		assert.Nil(t, task.CompletedAt)
		assert.WithinDuration(t, time.Now().UTC(), task.CreatedAt, time.Second)
	})

	t.Run("empty owner ID", func(t *testing.T) {
		t.Parallel()

		_, err := NewTask(uuid.Nil, TaskTypeGeneration, nil, 0)
		assert.ErrorIs(t, err, ErrEmptyTaskOwnerID)
	})

	t.Run("empty task type", func(t *testing.T) {
		t.Parallel()

		_, err := NewTask(uuid.New(), "", nil, 0)
		assert.ErrorIs(t, err, ErrEmptyTaskType)
	})
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Task {
		task, err := NewTask(uuid.New(), TaskTypeGeneration, nil, 0)
		require.NoError(t, err)
		return task
	}

	t.Run("invalid status", func(t *testing.T) {
		t.Parallel()

		task := valid()
		task.Status = TaskStatus("cancelled")
		assert.ErrorIs(t, task.Validate(), ErrInvalidTaskStatus)
	})

	t.Run("invalid max attempts", func(t *testing.T) {
		t.Parallel()

		task := valid()
		task.MaxAttempts = 0
		assert.ErrorIs(t, task.Validate(), ErrInvalidMaxAttempts)
	})

	t.Run("progress out of range", func(t *testing.T) {
		t.Parallel()

		task := valid()
		task.ProgressPercentage = 101
		assert.ErrorIs(t, task.Validate(), ErrInvalidProgress)

		task.ProgressPercentage = -1
		assert.ErrorIs(t, task.Validate(), ErrInvalidProgress)
	})
}

func TestTaskIsTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusProcessing, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tc := range cases {
		task := Task{Status: tc.status}
		assert.Equal(t, tc.terminal, task.IsTerminal(), "status %s", tc.status)
	}
}

func TestProcessingTimeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LongRunningProcessingTimeout, ProcessingTimeout(TaskTypeDeepResearch))
	assert.Equal(t, LongRunningProcessingTimeout, ProcessingTimeout(TaskTypeLiteratureReview))
	assert.Equal(t, DefaultProcessingTimeout, ProcessingTimeout(TaskTypeGeneration))
	assert.Equal(t, DefaultProcessingTimeout, ProcessingTimeout("anything_else"))
}
