// Package main implements the Otium background worker. It polls the task
// store for pending tasks, executes them through the registered handlers, and
// runs the periodic stuck-task and retention sweeps.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/config"
	"github.com/SteveJiangWorkPlace/otium/internal/domain"
	"github.com/SteveJiangWorkPlace/otium/internal/platform/gemini"
	"github.com/SteveJiangWorkPlace/otium/internal/platform/logger"
	"github.com/SteveJiangWorkPlace/otium/internal/platform/metrics"
	"github.com/SteveJiangWorkPlace/otium/internal/platform/postgres"
	"github.com/SteveJiangWorkPlace/otium/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// workerFlags holds the command-line overrides and run modes.
type workerFlags struct {
	interval time.Duration
	maxTasks int
	workerID string
	once     bool
	cleanup  bool
}

func parseFlags() workerFlags {
	var f workerFlags
	flag.DurationVar(&f.interval, "interval", 0,
		"polling interval between cycles (overrides configuration)")
	flag.IntVar(&f.maxTasks, "max-tasks", 0,
		"maximum tasks fetched per cycle (overrides configuration)")
	flag.StringVar(&f.workerID, "worker-id", "",
		"identifier for this worker instance")
	flag.BoolVar(&f.once, "once", false,
		"run a single polling cycle and exit")
	flag.BoolVar(&f.cleanup, "cleanup", false,
		"run the stuck-task and retention sweeps and exit")
	flag.Parse()
	return f
}

func main() {
	if err := run(parseFlags()); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func run(flags workerFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if !cfg.Worker.Enabled {
		return errors.New("worker is disabled in configuration (set OTIUM_WORKER_ENABLED=true)")
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("failed to close database", "error", err)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := postgres.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	registry := task.NewRegistry()
	if cfg.LLM.GeminiAPIKey != "" {
		generator, err := gemini.NewGeminiGenerator(ctx, appLogger, cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to initialize gemini generator: %w", err)
		}
		if err := registry.Register(domain.TaskTypeGeneration, generator.Handler()); err != nil {
			return fmt.Errorf("failed to register generation handler: %w", err)
		}
	}
	appLogger.Info("task handlers registered", "types", registry.Types())

	taskStore := postgres.NewPostgresTaskStore(db)
	taskService := task.NewService(taskStore, registry, task.ServiceConfig{
		MaxAttempts: cfg.Worker.MaxAttempts,
	}, appLogger)

	workerConfig := task.DefaultWorkerConfig()
	workerConfig.Interval = time.Duration(cfg.Worker.IntervalSeconds) * time.Second
	workerConfig.MaxTasks = cfg.Worker.MaxTasks
	if flags.interval > 0 {
		workerConfig.Interval = flags.interval
	}
	if flags.maxTasks > 0 {
		workerConfig.MaxTasks = flags.maxTasks
	}
	if flags.workerID != "" {
		workerConfig.WorkerID = flags.workerID
	}

	if flags.cleanup {
		return runCleanup(ctx, taskService, workerConfig, appLogger)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	workerMetrics := metrics.NewWorkerMetrics(promRegistry)

	worker := task.NewWorker(taskService, workerConfig, appLogger, workerMetrics)

	if flags.once {
		processed, err := worker.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("polling cycle failed: %w", err)
		}
		appLogger.Info("single cycle complete", "tasks_processed", processed)
		return nil
	}

	if cfg.Worker.HealthPort > 0 {
		startHealthServer(ctx, cfg.Worker.HealthPort, worker, promRegistry, appLogger)
	}

	return worker.Run(ctx)
}

// runCleanup executes both maintenance sweeps once and reports the results.
func runCleanup(
	ctx context.Context,
	taskService *task.Service,
	workerConfig task.WorkerConfig,
	appLogger *slog.Logger,
) error {
	stuck, err := taskService.CleanupStuckTasks(ctx, workerConfig.StuckTaskAge)
	if err != nil {
		return fmt.Errorf("stuck-task sweep failed: %w", err)
	}

	deleted, err := taskService.CleanupOldTasks(ctx, workerConfig.RetentionAge)
	if err != nil {
		return fmt.Errorf("retention sweep failed: %w", err)
	}

	appLogger.Info("cleanup complete",
		"stuck_tasks_failed", stuck,
		"old_tasks_deleted", deleted)
	return nil
}

// startHealthServer exposes /healthz and /metrics for the worker. The server
// is best-effort: failures are logged but do not stop the worker.
func startHealthServer(
	ctx context.Context,
	port int,
	worker *task.Worker,
	promRegistry *prometheus.Registry,
	appLogger *slog.Logger,
) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := worker.Health()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w,
			`{"status":"ok","worker_id":%q,"cycles":%d,"tasks_processed":%d,"consecutive_errors":%d}`,
			snapshot.WorkerID, snapshot.Cycles, snapshot.TasksProcessed, snapshot.ConsecutiveErrors)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("health server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("health server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("failed to shut down health server", "error", err)
		}
	}()
}
