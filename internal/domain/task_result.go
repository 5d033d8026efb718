package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for TaskResult
var (
	ErrEmptyResultID     = errors.New("task result ID cannot be empty")
	ErrEmptyResultTaskID = errors.New("task result task ID cannot be empty")
)

// TaskResult records the outcome of one execution attempt of a task.
// Results are append-only; a task accumulates one per attempt.
// ExecutionTime is measured by the engine around the executor call,
// never taken from the executor's own report.
type TaskResult struct {
	ID            uuid.UUID      `json:"id"`
	TaskID        uuid.UUID      `json:"task_id"`
	Status        TaskStatus     `json:"status"`
	Data          map[string]any `json:"result_data,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewTaskResult creates a TaskResult for the given task and outcome.
func NewTaskResult(taskID uuid.UUID, status TaskStatus) *TaskResult {
	return &TaskResult{
		ID:        uuid.New(),
		TaskID:    taskID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks if the TaskResult has valid data.
func (r *TaskResult) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyResultID
	}

	if r.TaskID == uuid.Nil {
		return ErrEmptyResultTaskID
	}

	if !isValidTaskStatus(r.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}
