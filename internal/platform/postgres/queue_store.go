package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/store"
)

// PostgresTaskQueue implements the store.TaskQueue interface on a
// task_queue table, one logical FIFO list per priority tier.
//
// Pop uses FOR UPDATE SKIP LOCKED so that concurrent workers, in this
// process or others sharing the database, each receive a given entry at
// most once. That atomic pop is the engine's only cross-worker
// serialization point.
type PostgresTaskQueue struct {
	db store.DBTX
}

// NewPostgresTaskQueue creates a new PostgresTaskQueue.
func NewPostgresTaskQueue(db store.DBTX) *PostgresTaskQueue {
	return &PostgresTaskQueue{
		db: db,
	}
}

// Push appends a task ID to the tail of the tier's list.
func (q *PostgresTaskQueue) Push(ctx context.Context, priority domain.TaskPriority, id uuid.UUID) error {
	query := `
		INSERT INTO task_queue (task_id, priority, enqueued_at)
		VALUES ($1, $2, $3)
	`

	_, err := q.db.ExecContext(ctx, query, id, priority, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}

	return nil
}

// Pop removes and returns the ID at the head of the tier's list. The
// second return is false when the tier is empty.
func (q *PostgresTaskQueue) Pop(ctx context.Context, priority domain.TaskPriority) (uuid.UUID, bool, error) {
	query := `
		DELETE FROM task_queue
		WHERE seq = (
			SELECT seq FROM task_queue
			WHERE priority = $1
			ORDER BY seq ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING task_id
	`

	var id uuid.UUID
	err := q.db.QueryRowContext(ctx, query, priority).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, MapError(err)
	}

	return id, true, nil
}

// Remove deletes a specific ID from the tier's list if still queued.
func (q *PostgresTaskQueue) Remove(ctx context.Context, priority domain.TaskPriority, id uuid.UUID) error {
	query := `
		DELETE FROM task_queue
		WHERE priority = $1 AND task_id = $2
	`

	_, err := q.db.ExecContext(ctx, query, priority, id)
	if err != nil {
		return MapError(err)
	}

	return nil
}

// Len reports the number of IDs queued in the tier.
func (q *PostgresTaskQueue) Len(ctx context.Context, priority domain.TaskPriority) (int, error) {
	query := `
		SELECT COUNT(*) FROM task_queue WHERE priority = $1
	`

	var n int
	if err := q.db.QueryRowContext(ctx, query, priority).Scan(&n); err != nil {
		return 0, MapError(err)
	}

	return n, nil
}
