package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
)

// ResultStats holds the aggregates computed over stored task results.
type ResultStats struct {
	Completed        int
	Failed           int
	AvgExecutionSecs float64 // mean over completed results only
}

// TaskResultStore defines the interface for persisting task results.
// Results are append-only; there is no update operation.
type TaskResultStore interface {
	// CreateResult persists a new task result.
	CreateResult(ctx context.Context, result *domain.TaskResult) error

	// GetResult retrieves a result by its unique ID.
	// Returns ErrTaskResultNotFound if it does not exist.
	GetResult(ctx context.Context, id uuid.UUID) (*domain.TaskResult, error)

	// ListResultsByTask retrieves all results recorded for a task,
	// oldest attempt first.
	ListResultsByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskResult, error)

	// ResultStats aggregates completed/failed counts and the average
	// execution time of completed results.
	ResultStats(ctx context.Context) (*ResultStats, error)
}
