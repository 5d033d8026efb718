package task

import (
	"context"
	"time"

	"github.com/grimoirekb/grimoire/internal/domain"
)

// Executor implements one task category's business logic. Categories
// are an open, string-keyed capability set: each category maps to
// exactly one executor instance, registered once at process startup.
//
// Execute performs the category-specific work. It may return an error
// or panic; the engine converts either into a failed TaskResult, so an
// executor can never crash the scheduler. Well-behaved executors poll
// ctx at safe points: the engine cancels it on task cancellation and on
// deadline expiry, but cancellation is cooperative and never forced.
//
// The engine measures execution time itself around the Execute call;
// any ExecutionTime on the returned result is overwritten.
type Executor interface {
	// Execute runs the category's work for the given task.
	Execute(ctx context.Context, task *domain.Task) (*domain.TaskResult, error)

	// Validate checks the task's parameters before admission. It is
	// called once, before the task is persisted.
	Validate(task *domain.Task) error

	// EstimateDuration returns an advisory duration estimate for the
	// task, or 0 when no estimate is available. The value is stored on
	// the task for display and telemetry only.
	EstimateDuration(task *domain.Task) time.Duration
}
