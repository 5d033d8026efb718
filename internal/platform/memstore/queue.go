package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
)

// TaskQueue is an in-memory implementation of store.TaskQueue: one
// FIFO slice per priority tier behind a single mutex. Push and Pop are
// atomic with respect to concurrent goroutines, which gives the same
// exactly-once delivery the durable queue provides, within one process.
type TaskQueue struct {
	mu    sync.Mutex
	tiers map[domain.TaskPriority][]uuid.UUID
}

// NewTaskQueue creates an empty in-memory task queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		tiers: make(map[domain.TaskPriority][]uuid.UUID),
	}
}

// Push appends a task ID to the tail of the tier's list.
func (q *TaskQueue) Push(ctx context.Context, priority domain.TaskPriority, id uuid.UUID) error {
	q.mu.Lock()
	q.tiers[priority] = append(q.tiers[priority], id)
	q.mu.Unlock()
	return nil
}

// Pop removes and returns the ID at the head of the tier's list.
// The second return is false when the tier is empty.
func (q *TaskQueue) Pop(ctx context.Context, priority domain.TaskPriority) (uuid.UUID, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tier := q.tiers[priority]
	if len(tier) == 0 {
		return uuid.Nil, false, nil
	}

	id := tier[0]
	q.tiers[priority] = tier[1:]
	return id, true, nil
}

// Remove deletes a specific ID from the tier's list if still queued.
func (q *TaskQueue) Remove(ctx context.Context, priority domain.TaskPriority, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tier := q.tiers[priority]
	for i, queued := range tier {
		if queued == id {
			q.tiers[priority] = append(tier[:i:i], tier[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len reports the number of IDs queued in the tier.
func (q *TaskQueue) Len(ctx context.Context, priority domain.TaskPriority) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tiers[priority]), nil
}
