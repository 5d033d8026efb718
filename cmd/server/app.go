package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/grimoirekb/grimoire/internal/config"
	"github.com/grimoirekb/grimoire/internal/events"
	"github.com/grimoirekb/grimoire/internal/platform/memstore"
	"github.com/grimoirekb/grimoire/internal/platform/postgres"
	"github.com/grimoirekb/grimoire/internal/task"
)

// application holds the composed dependencies of the server process.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	db      *sql.DB
	service *task.Service
	worker  *task.Worker
}

// newApplication wires the stores, the task service, and the worker
// pool from configuration.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up database: %w", err)
	}

	service := task.NewService(
		postgres.NewPostgresTaskStore(db),
		postgres.NewPostgresTaskResultStore(db),
		postgres.NewPostgresTaskQueue(db),
		memstore.NewCache(),
		task.ServiceConfig{
			DefaultTimeout: cfg.Task.DefaultTimeout(),
			StatsCacheTTL:  cfg.Task.StatsCacheTTL(),
			RecordCacheTTL: cfg.Task.RecordCacheTTL(),
		},
		logger,
	)

	emitter := events.NewInMemoryEmitter(logger)
	emitter.RegisterHandler(auditLogHandler(logger))
	service.SetEventEmitter(emitter)

	if err := registerExecutors(service); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to register executors: %w", err)
	}

	worker := task.NewWorker(service, task.WorkerConfig{
		Count:        cfg.Task.WorkerCount,
		IdleInterval: cfg.Task.IdleInterval(),
		ErrorBackoff: cfg.Task.ErrorBackoff(),
	}, logger)

	return &application{
		config:  cfg,
		logger:  logger,
		db:      db,
		service: service,
		worker:  worker,
	}, nil
}

// auditLogHandler writes every lifecycle event to the audit log.
func auditLogHandler(logger *slog.Logger) events.Handler {
	audit := logger.With("component", "audit")
	return events.HandlerFunc(func(ctx context.Context, event *events.TaskEvent) error {
		audit.Info("task lifecycle event",
			"event_type", event.Type,
			"task_id", event.TaskID,
			"category", event.Category,
			"retry_count", event.RetryCount)
		return nil
	})
}

// cleanup releases application resources during shutdown.
func (app *application) cleanup() {
	app.worker.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Warn("failed to close database", "error", err)
	}
}
