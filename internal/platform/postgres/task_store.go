package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/domain"
	"github.com/SteveJiangWorkPlace/otium/internal/platform/logger"
	"github.com/SteveJiangWorkPlace/otium/internal/store"
	"github.com/google/uuid"
)

// taskColumns is the select list shared by every task query, in scanTask order.
const taskColumns = `id, owner_id, task_type, status, request_payload, result_payload,
	error_message, attempts, max_attempts, estimated_seconds,
	progress_percentage, current_step, total_steps, step_description, step_details,
	started_at, completed_at, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore. The DBTX may be a
// *sql.DB or a transaction.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// CreateTask persists a new task record.
func (s *PostgresTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO tasks (
			id, owner_id, task_type, status, request_payload, result_payload,
			error_message, attempts, max_attempts, estimated_seconds,
			progress_percentage, current_step, total_steps, step_description, step_details,
			started_at, completed_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.OwnerID,
		task.TaskType,
		task.Status,
		nullableJSON(task.RequestPayload),
		nullableJSON(task.ResultPayload),
		task.ErrorMessage,
		task.Attempts,
		task.MaxAttempts,
		task.EstimatedSeconds,
		task.ProgressPercentage,
		task.CurrentStep,
		task.TotalSteps,
		task.StepDescription,
		nullableJSON(task.StepDetails),
		task.StartedAt,
		task.CompletedAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"task_type", task.TaskType,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetTask retrieves a task by ID. Returns store.ErrTaskNotFound if absent.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}

	return task, nil
}

// UpdateTask applies a partial update and returns the updated task. Nil params
// fields leave their columns untouched; updated_at is always refreshed.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) UpdateTask(
	ctx context.Context,
	id uuid.UUID,
	params store.UpdateTaskParams,
) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}

	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Status != nil {
		set("status", *params.Status)
	}
	if params.ResultPayload != nil {
		set("result_payload", []byte(params.ResultPayload))
	}
	if params.ErrorMessage != nil {
		set("error_message", *params.ErrorMessage)
	}
	if params.StartedAt != nil {
		set("started_at", *params.StartedAt)
	}
	if params.CompletedAt != nil {
		set("completed_at", *params.CompletedAt)
	}
	if params.ProgressPercentage != nil {
		set("progress_percentage", *params.ProgressPercentage)
	}
	if params.CurrentStep != nil {
		set("current_step", *params.CurrentStep)
	}
	if params.TotalSteps != nil {
		set("total_steps", *params.TotalSteps)
	}
	if params.StepDescription != nil {
		set("step_description", *params.StepDescription)
	}
	if params.StepDetails != nil {
		set("step_details", []byte(params.StepDetails))
	}
	if params.IncrementAttempts {
		sets = append(sets, "attempts = attempts + 1")
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE tasks SET %s WHERE id = $%d",
		strings.Join(sets, ", "),
		len(args),
	)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update task",
			"task_id", id,
			"error", err)
		return nil, MapError(err)
	}
	if err := CheckRowsAffected(result, "task"); err != nil {
		return nil, err
	}

	return s.GetTask(ctx, id)
}

// ListTasks returns tasks matching the filter, ordered by created_at.
func (s *PostgresTaskStore) ListTasks(
	ctx context.Context,
	filter store.TaskFilter,
) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	var conditions []string
	var args []interface{}

	where := func(format string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(format, len(args)))
	}

	if filter.OwnerID != nil {
		where("owner_id = $%d", *filter.OwnerID)
	}
	if filter.TaskType != nil {
		where("task_type = $%d", *filter.TaskType)
	}
	if filter.Status != nil {
		where("status = $%d", *filter.Status)
	}
	if filter.StartedBefore != nil {
		where("started_at < $%d", *filter.StartedBefore)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM tasks", taskColumns)
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}
	if filter.NewestFirst {
		sb.WriteString(" ORDER BY created_at DESC")
	} else {
		sb.WriteString(" ORDER BY created_at ASC")
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		log.Error("failed to query tasks", "error", err)
		return nil, MapError(err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", "error", err)
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		log.Error("error iterating task rows", "error", err)
		return nil, MapError(err)
	}

	return tasks, nil
}

// DeleteTasks removes tasks matching the filter and returns the number deleted.
func (s *PostgresTaskStore) DeleteTasks(
	ctx context.Context,
	filter store.DeleteTaskFilter,
) (int64, error) {
	log := logger.FromContext(ctx)

	if len(filter.Statuses) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(filter.Statuses))
	args := make([]interface{}, 0, len(filter.Statuses)+1)
	for i, status := range filter.Statuses {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	args = append(args, filter.CreatedBefore)

	query := fmt.Sprintf(
		"DELETE FROM tasks WHERE status IN (%s) AND created_at < $%d",
		strings.Join(placeholders, ", "),
		len(args),
	)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to delete tasks", "error", err)
		return 0, MapError(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTask reads one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var requestPayload, resultPayload, stepDetails []byte
	var errorMessage, stepDescription sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.TaskType,
		&task.Status,
		&requestPayload,
		&resultPayload,
		&errorMessage,
		&task.Attempts,
		&task.MaxAttempts,
		&task.EstimatedSeconds,
		&task.ProgressPercentage,
		&task.CurrentStep,
		&task.TotalSteps,
		&stepDescription,
		&stepDetails,
		&startedAt,
		&completedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.RequestPayload = requestPayload
	task.ResultPayload = resultPayload
	task.StepDetails = stepDetails
	task.ErrorMessage = errorMessage.String
	task.StepDescription = stepDescription.String
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}

// nullableJSON maps an empty raw message to NULL instead of an invalid empty
// JSONB value.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
