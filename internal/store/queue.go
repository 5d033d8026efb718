package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
)

// TaskQueue is the volatile priority-tiered FIFO queue of task IDs
// awaiting dispatch. One independent list exists per priority tier.
//
// Pop must be atomic with respect to concurrent workers: a given ID is
// delivered to exactly one caller. That atomicity is the engine's only
// cross-worker serialization point.
type TaskQueue interface {
	// Push appends a task ID to the tail of the tier's list.
	Push(ctx context.Context, priority domain.TaskPriority, id uuid.UUID) error

	// Pop removes and returns the ID at the head of the tier's list.
	// The second return is false when the tier is empty.
	Pop(ctx context.Context, priority domain.TaskPriority) (uuid.UUID, bool, error)

	// Remove deletes a specific ID from the tier's list if still queued.
	// Removing an absent ID is not an error.
	Remove(ctx context.Context, priority domain.TaskPriority, id uuid.UUID) error

	// Len reports the number of IDs queued in the tier.
	Len(ctx context.Context, priority domain.TaskPriority) (int, error)
}
