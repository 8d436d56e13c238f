// Package main implements the entry point for the Otium API server, which
// accepts task submissions and serves task status to clients. Task execution
// itself happens in the worker binary.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SteveJiangWorkPlace/otium/internal/api"
	"github.com/SteveJiangWorkPlace/otium/internal/api/middleware"
	"github.com/SteveJiangWorkPlace/otium/internal/config"
	"github.com/SteveJiangWorkPlace/otium/internal/domain"
	"github.com/SteveJiangWorkPlace/otium/internal/platform/gemini"
	"github.com/SteveJiangWorkPlace/otium/internal/platform/logger"
	"github.com/SteveJiangWorkPlace/otium/internal/platform/postgres"
	"github.com/SteveJiangWorkPlace/otium/internal/task"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

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

	taskStore := postgres.NewPostgresTaskStore(db)
	taskService := task.NewService(taskStore, registry, task.ServiceConfig{
		MaxAttempts: cfg.Worker.MaxAttempts,
	}, appLogger)

	router := newRouter(taskService)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	appLogger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server cleanly: %w", err)
	}

	appLogger.Info("server stopped")
	return nil
}

// newRouter wires the HTTP routes and middleware.
func newRouter(taskService *task.Service) http.Handler {
	taskHandler := api.NewTaskHandler(taskService)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Trace)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(middleware.Owner)
		r.Post("/", taskHandler.CreateTask)
		r.Get("/", taskHandler.ListTasks)
		r.Get("/{id}", taskHandler.GetTask)
	})

	return r
}
