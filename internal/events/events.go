package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a task lifecycle transition.
type EventType string

const (
	EventTaskCreated   EventType = "task.created"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"
	EventTaskRetried   EventType = "task.retried"
)

// TaskEvent describes one lifecycle transition of a task. Events carry
// identifying data only; subscribers needing the full record load it
// themselves.
type TaskEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	TaskID     uuid.UUID `json:"task_id"`
	Category   string    `json:"category"`
	RetryCount int       `json:"retry_count"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTaskEvent creates a TaskEvent for the given transition.
func NewTaskEvent(eventType EventType, taskID uuid.UUID, category string, retryCount int) *TaskEvent {
	return &TaskEvent{
		ID:         uuid.New(),
		Type:       eventType,
		TaskID:     taskID,
		Category:   category,
		RetryCount: retryCount,
		OccurredAt: time.Now().UTC(),
	}
}

// Handler processes lifecycle events. Handlers must tolerate being
// called concurrently.
type Handler interface {
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// Emitter publishes lifecycle events to registered handlers.
type Emitter interface {
	EmitEvent(ctx context.Context, event *TaskEvent) error
}
