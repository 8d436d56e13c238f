package task

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/SteveJiangWorkPlace/otium/internal/store"
	"github.com/google/uuid"
)

// flatStepPercent is the progress increment per step when the total step
// count is unknown.
const flatStepPercent = 10

// ProgressUpdate describes a partial progress mutation. Nil fields leave the
// corresponding task field unchanged.
type ProgressUpdate struct {
	Percentage  *int
	CurrentStep *int
	TotalSteps  *int
	Description *string
	Details     json.RawMessage
}

// Progress reports incremental status for a single running task. Every write
// commits immediately so concurrent status-polling readers see it without
// waiting for task completion.
//
// All writes are best-effort: persistence failures are logged and swallowed.
// Progress reporting must never abort the underlying work.
type Progress struct {
	taskID uuid.UUID
	store  store.TaskStore
	logger *slog.Logger
}

// NewProgress creates a progress tracker bound to the given task.
func NewProgress(taskID uuid.UUID, taskStore store.TaskStore, logger *slog.Logger) *Progress {
	return &Progress{
		taskID: taskID,
		store:  taskStore,
		logger: logger.With("task_id", taskID),
	}
}

// SetTotalSteps initializes the step counter and resets progress to 0%.
func (p *Progress) SetTotalSteps(ctx context.Context, total int) {
	zero := 0
	p.Update(ctx, ProgressUpdate{
		Percentage:  &zero,
		CurrentStep: &zero,
		TotalSteps:  &total,
	})
}

// Update applies a partial progress update. A percentage outside [0, 100] is
// ignored while the remaining fields are still applied.
func (p *Progress) Update(ctx context.Context, update ProgressUpdate) {
	params := store.UpdateTaskParams{
		CurrentStep:     update.CurrentStep,
		TotalSteps:      update.TotalSteps,
		StepDescription: update.Description,
		StepDetails:     update.Details,
	}

	if update.Percentage != nil {
		if *update.Percentage >= 0 && *update.Percentage <= 100 {
			params.ProgressPercentage = update.Percentage
		} else {
			p.logger.Warn("ignoring out-of-range progress percentage",
				"percentage", *update.Percentage)
		}
	}

	if _, err := p.store.UpdateTask(ctx, p.taskID, params); err != nil {
		p.logger.Warn("failed to persist progress update", "error", err)
	}
}

// IncrementStep advances the step counter by one and recomputes the
// percentage: current/total×100 (capped at 100) when the total is known,
// otherwise a flat increment per call.
func (p *Progress) IncrementStep(ctx context.Context, description string, details json.RawMessage) {
	current, err := p.store.GetTask(ctx, p.taskID)
	if err != nil {
		p.logger.Warn("failed to load task for step increment", "error", err)
		return
	}

	step := current.CurrentStep + 1

	var percentage int
	if current.TotalSteps > 0 {
		percentage = step * 100 / current.TotalSteps
	} else {
		percentage = current.ProgressPercentage + flatStepPercent
	}
	if percentage > 100 {
		percentage = 100
	}

	update := ProgressUpdate{
		Percentage:  &percentage,
		CurrentStep: &step,
		Details:     details,
	}
	if description != "" {
		update.Description = &description
	}

	p.Update(ctx, update)
}
