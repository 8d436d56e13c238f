package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/platform/metrics"
)

// WorkerConfig holds configuration for the polling worker loop.
type WorkerConfig struct {
	// WorkerID attributes log lines and health output when several worker
	// processes share a store.
	WorkerID string

	// Interval is the sleep between poll cycles when no work was found.
	Interval time.Duration

	// MaxTasks bounds the pending batch fetched per cycle.
	MaxTasks int

	// DrainTick is the short sleep between cycles while a backlog is draining.
	DrainTick time.Duration

	// StuckTaskCheckInterval defines how often to sweep for stuck tasks.
	StuckTaskCheckInterval time.Duration

	// StuckTaskAge defines how long a task may sit in processing before the
	// sweep force-fails it.
	StuckTaskAge time.Duration

	// RetentionCheckInterval defines how often to run the old-task sweep.
	RetentionCheckInterval time.Duration

	// RetentionAge defines how old a terminal task must be before deletion.
	RetentionAge time.Duration

	// HealthReportEvery emits a health summary every N cycles.
	HealthReportEvery int

	// MaxErrorSleep caps the escalating sleep applied after consecutive
	// cycle-level errors.
	MaxErrorSleep time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with the standard cadence.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerID:               "worker-1",
		Interval:               10 * time.Second,
		MaxTasks:               5,
		DrainTick:              time.Second,
		StuckTaskCheckInterval: 30 * time.Minute,
		StuckTaskAge:           30 * time.Minute,
		RetentionCheckInterval: time.Hour,
		RetentionAge:           7 * 24 * time.Hour,
		HealthReportEvery:      10,
		MaxErrorSleep:          300 * time.Second,
	}
}

// HealthSnapshot is a point-in-time view of the worker's bookkeeping.
type HealthSnapshot struct {
	WorkerID          string        `json:"worker_id"`
	Uptime            time.Duration `json:"uptime"`
	Cycles            int64         `json:"cycles"`
	TasksProcessed    int64         `json:"tasks_processed"`
	TasksPerCycle     float64       `json:"tasks_per_cycle"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
}

// Worker is a single-process polling loop. Each cycle it fetches a bounded
// batch of pending tasks oldest-first and processes them sequentially, runs
// the periodic cleanup sweeps on their own schedules, and tracks health
// statistics. Horizontal scaling is achieved by running several workers
// against the same store; they coordinate only through the store's row-update
// semantics.
type Worker struct {
	service *Service
	config  WorkerConfig
	logger  *slog.Logger
	metrics *metrics.WorkerMetrics

	mu                sync.Mutex
	startedAt         time.Time
	cycles            int64
	tasksProcessed    int64
	consecutiveErrors int

	lastStuckSweep     time.Time
	lastRetentionSweep time.Time
}

// NewWorker creates a Worker. Zero-valued config fields fall back to their
// defaults. The metrics set may be nil when no registry is wired.
func NewWorker(
	service *Service,
	config WorkerConfig,
	logger *slog.Logger,
	workerMetrics *metrics.WorkerMetrics,
) *Worker {
	defaults := DefaultWorkerConfig()
	if config.WorkerID == "" {
		config.WorkerID = defaults.WorkerID
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxTasks <= 0 {
		config.MaxTasks = defaults.MaxTasks
	}
	if config.DrainTick <= 0 {
		config.DrainTick = defaults.DrainTick
	}
	if config.StuckTaskCheckInterval <= 0 {
		config.StuckTaskCheckInterval = defaults.StuckTaskCheckInterval
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = defaults.StuckTaskAge
	}
	if config.RetentionCheckInterval <= 0 {
		config.RetentionCheckInterval = defaults.RetentionCheckInterval
	}
	if config.RetentionAge <= 0 {
		config.RetentionAge = defaults.RetentionAge
	}
	if config.HealthReportEvery <= 0 {
		config.HealthReportEvery = defaults.HealthReportEvery
	}
	if config.MaxErrorSleep <= 0 {
		config.MaxErrorSleep = defaults.MaxErrorSleep
	}

	return &Worker{
		service: service,
		config:  config,
		logger:  logger.With("worker_id", config.WorkerID),
		metrics: workerMetrics,
	}
}

// Run executes poll cycles until the context is canceled, then returns nil.
// Cycle-level errors (batch fetch or cleanup failures) escalate the sleep
// between cycles but never terminate the loop. A task attempt already in
// flight when shutdown is requested is allowed to finish; remaining pending
// tasks stay pending for the next worker start.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	w.startedAt = time.Now().UTC()
	now := w.startedAt
	w.lastStuckSweep = now
	w.lastRetentionSweep = now
	w.mu.Unlock()

	w.logger.Info("worker started",
		"interval", w.config.Interval,
		"max_tasks", w.config.MaxTasks)

	// One stuck-task sweep at startup recovers tasks abandoned by a
	// previous crashed worker before normal polling begins.
	if _, err := w.service.CleanupStuckTasks(ctx, w.config.StuckTaskAge); err != nil {
		w.logger.Error("startup stuck-task sweep failed", "error", err)
	}

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping", "reason", "shutdown requested")
			return nil
		}

		processed, cycleErr := w.RunOnce(ctx)

		if maintErr := w.maintain(ctx); maintErr != nil {
			cycleErr = errors.Join(cycleErr, maintErr)
		}

		if cycleErr != nil {
			w.mu.Lock()
			w.consecutiveErrors++
			errCount := w.consecutiveErrors
			w.mu.Unlock()

			if w.metrics != nil {
				w.metrics.CycleErrorsTotal.Inc()
			}

			sleep := time.Duration(errCount) * w.config.Interval
			if sleep > w.config.MaxErrorSleep {
				sleep = w.config.MaxErrorSleep
			}
			w.logger.Error("worker cycle failed",
				"error", cycleErr,
				"consecutive_errors", errCount,
				"backoff", sleep)
			if !w.sleep(ctx, sleep) {
				return nil
			}
			continue
		}

		w.mu.Lock()
		w.consecutiveErrors = 0
		cycles := w.cycles
		w.mu.Unlock()

		if cycles%int64(w.config.HealthReportEvery) == 0 {
			w.reportHealth()
		}

		var pause time.Duration
		if processed == 0 {
			pause = w.config.Interval
		} else {
			// Backlog: take a minimal breath and poll again.
			pause = w.config.DrainTick
		}
		if !w.sleep(ctx, pause) {
			w.logger.Info("worker stopping", "reason", "shutdown requested")
			return nil
		}
	}
}

// RunOnce executes a single poll cycle: fetch up to MaxTasks pending tasks
// FIFO and attempt each in sequence. Returns the number of tasks attempted.
// Per-task failures are absorbed (the service already persisted the
// retry/fail decision); a timed-out task does not abort the batch. The only
// error returned is a cycle-level one: failure to fetch the batch itself.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.service.GetPendingTasks(ctx, w.config.MaxTasks)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	if w.metrics != nil {
		w.metrics.PendingBatchSize.Set(float64(len(tasks)))
	}

	processed := 0
	for _, t := range tasks {
		// Shutdown requested: do not start another attempt. The attempt
		// below runs on a detached context so an in-flight handler is
		// never aborted mid-task.
		if ctx.Err() != nil {
			break
		}

		_, err := w.service.ProcessTask(context.WithoutCancel(ctx), t)
		processed++

		switch {
		case err == nil:
			if w.metrics != nil {
				w.metrics.TasksProcessedTotal.Inc()
			}
		case errors.Is(err, ErrTaskTimedOut):
			w.logger.Warn("requeued timed out task", "task_id", t.ID)
		default:
			// Classification here is for logging and metrics only; the
			// service has already persisted the retry or failure decision.
			class := Classify(err.Error())
			if w.metrics != nil {
				w.metrics.TasksProcessedTotal.Inc()
				w.metrics.TaskFailuresTotal.WithLabelValues(string(class)).Inc()
			}
			w.logger.Error("task attempt failed",
				"task_id", t.ID,
				"task_type", t.TaskType,
				"error_class", class,
				"error", err)
		}
	}

	w.mu.Lock()
	w.cycles++
	w.tasksProcessed += int64(processed)
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.CyclesTotal.Inc()
	}

	return processed, nil
}

// maintain runs the stuck-task and retention sweeps when their schedules are
// due. Sweep schedules are independent of task throughput.
func (w *Worker) maintain(ctx context.Context) error {
	var errs []error
	now := time.Now().UTC()

	w.mu.Lock()
	stuckDue := now.Sub(w.lastStuckSweep) >= w.config.StuckTaskCheckInterval
	retentionDue := now.Sub(w.lastRetentionSweep) >= w.config.RetentionCheckInterval
	w.mu.Unlock()

	if stuckDue {
		w.mu.Lock()
		w.lastStuckSweep = now
		w.mu.Unlock()

		count, err := w.service.CleanupStuckTasks(ctx, w.config.StuckTaskAge)
		if err != nil {
			errs = append(errs, fmt.Errorf("stuck-task sweep: %w", err))
		} else if w.metrics != nil {
			w.metrics.StuckTasksTotal.Add(float64(count))
		}
	}

	if retentionDue {
		w.mu.Lock()
		w.lastRetentionSweep = now
		w.mu.Unlock()

		count, err := w.service.CleanupOldTasks(ctx, w.config.RetentionAge)
		if err != nil {
			errs = append(errs, fmt.Errorf("retention sweep: %w", err))
		} else if w.metrics != nil {
			w.metrics.TasksDeletedTotal.Add(float64(count))
		}
	}

	return errors.Join(errs...)
}

// Health returns a snapshot of the worker's bookkeeping, safe to call from
// other goroutines (the health endpoint).
func (w *Worker) Health() HealthSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snapshot := HealthSnapshot{
		WorkerID:          w.config.WorkerID,
		Cycles:            w.cycles,
		TasksProcessed:    w.tasksProcessed,
		ConsecutiveErrors: w.consecutiveErrors,
	}
	if !w.startedAt.IsZero() {
		snapshot.Uptime = time.Since(w.startedAt)
	}
	if w.cycles > 0 {
		snapshot.TasksPerCycle = float64(w.tasksProcessed) / float64(w.cycles)
	}
	return snapshot
}

// reportHealth logs the periodic health summary.
func (w *Worker) reportHealth() {
	h := w.Health()
	w.logger.Info("worker health",
		"uptime", h.Uptime.Round(time.Second),
		"cycles", h.Cycles,
		"tasks_processed", h.TasksProcessed,
		"tasks_per_cycle", h.TasksPerCycle)
}

// sleep pauses for d, waking once per second to check for shutdown.
// Returns false if the context was canceled before the pause elapsed.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}

		tick := time.Second
		if remaining < tick {
			tick = remaining
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(tick):
		}
	}
}
