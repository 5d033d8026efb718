package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
)

// TaskFilter narrows a task listing. Nil/zero fields are ignored.
type TaskFilter struct {
	Status    *domain.TaskStatus
	Category  string
	Priority  *domain.TaskPriority
	CreatedBy string
	Limit     int
	Offset    int
}

// TaskPage is one page of a filtered task listing together with the
// total number of matches before pagination.
type TaskPage struct {
	Tasks []*domain.Task
	Total int
}

// TaskCounts holds the aggregate counts the statistics endpoint reports.
type TaskCounts struct {
	ByStatus   map[domain.TaskStatus]int
	ByCategory map[string]int
	ByPriority map[domain.TaskPriority]int
}

// TaskStore defines the interface for persisting tasks.
// Implementations must exclude soft-deleted tasks from reads.
type TaskStore interface {
	// CreateTask persists a new task.
	// Returns ErrTaskExists if the ID is already taken.
	CreateTask(ctx context.Context, task *domain.Task) error

	// UpdateTask persists the current state of an existing task.
	// Returns ErrTaskNotFound if the task does not exist.
	UpdateTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist or is deleted.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListTasks retrieves tasks matching the filter, newest first,
	// along with the total match count.
	ListTasks(ctx context.Context, filter TaskFilter) (*TaskPage, error)

	// DeleteTask soft-deletes a task by stamping its deletion marker.
	// Returns ErrTaskNotFound if the task does not exist.
	DeleteTask(ctx context.Context, id uuid.UUID) error

	// CountTasks aggregates non-deleted tasks by status, category, and priority.
	CountTasks(ctx context.Context) (*TaskCounts, error)
}
