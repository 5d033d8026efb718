package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskPriority determines which queue tier a task is dispatched from
type TaskPriority string

// Possible task priority values, highest first
const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// Priorities lists the tiers in strict dispatch order.
var Priorities = []TaskPriority{TaskPriorityHigh, TaskPriorityMedium, TaskPriorityLow}

// ExecutionMode controls whether creation blocks on the task's execution
type ExecutionMode string

// Possible execution modes
const (
	ExecutionModeSync  ExecutionMode = "sync"
	ExecutionModeAsync ExecutionMode = "async"
)

// DependencyType describes the state a dependency's task must reach
// before the dependent task may be dispatched.
type DependencyType string

// Recognized dependency types. Both currently gate on the dependency
// reaching completed state; the distinction is kept so callers that
// recorded either value keep working.
const (
	DependencyTypeCompletion DependencyType = "completion"
	DependencyTypeSuccess    DependencyType = "success"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyTaskName      = errors.New("task name cannot be empty")
	ErrEmptyTaskCategory  = errors.New("task category cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidPriority    = errors.New("invalid task priority")
	ErrInvalidMode        = errors.New("invalid execution mode")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrProgressRegression = errors.New("progress percentage cannot decrease")
	ErrRetriesExhausted   = errors.New("retry budget exhausted")
	ErrNotRetryable       = errors.New("task is not in a retryable state")
)

// RetryPolicy controls automatic and manual retries of a failed task.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	DelaySeconds      float64 `json:"delay_seconds"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// DefaultRetryPolicy returns the policy applied when a task is created
// without an explicit one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		DelaySeconds:      60,
		BackoffMultiplier: 2.0,
	}
}

// Delay returns the backoff delay before the given retry attempt
// (1-based): delay_seconds * multiplier^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	seconds := p.DelaySeconds * math.Pow(multiplier, float64(attempt-1))
	return time.Duration(seconds * float64(time.Second))
}

// TaskDependency references another task that must reach a given state
// before this task may be dispatched.
type TaskDependency struct {
	TaskID uuid.UUID      `json:"task_id"`
	Type   DependencyType `json:"type"`
}

// TaskSchedule carries advisory scheduling information. The queue does
// not act on it; it is stored for display and external schedulers.
type TaskSchedule struct {
	Expression string     `json:"expression,omitempty"`
	StartAt    *time.Time `json:"start_at,omitempty"`
}

// TaskResource describes the advisory resource requirements of a task.
type TaskResource struct {
	CPUCores float64 `json:"cpu_cores,omitempty"`
	MemoryMB int     `json:"memory_mb,omitempty"`
	DiskMB   int     `json:"disk_mb,omitempty"`
}

// TaskProgress tracks completion of a single execution attempt.
// Percentage is monotonically non-decreasing within one attempt.
type TaskProgress struct {
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	Percentage  float64 `json:"percentage"`
}

// Task represents a schedulable unit of background work. Its category
// selects the registered executor that performs the actual work.
type Task struct {
	ID                uuid.UUID        `json:"id"`
	Name              string           `json:"name"`
	Category          string           `json:"category"`
	Status            TaskStatus       `json:"status"`
	Priority          TaskPriority     `json:"priority"`
	Mode              ExecutionMode    `json:"execution_mode"`
	Params            map[string]any   `json:"parameters,omitempty"`
	RetryPolicy       RetryPolicy      `json:"retry_policy"`
	Schedule          *TaskSchedule    `json:"schedule,omitempty"`
	Dependencies      []TaskDependency `json:"dependencies,omitempty"`
	Resources         TaskResource     `json:"resource_requirements"`
	Progress          TaskProgress     `json:"progress"`
	EstimatedDuration time.Duration    `json:"estimated_duration,omitempty"`
	Timeout           time.Duration    `json:"timeout,omitempty"`
	RetryCount        int              `json:"retry_count"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	CreatedBy         string           `json:"created_by,omitempty"`
	UpdatedBy         string           `json:"updated_by,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	ScheduledAt       *time.Time       `json:"scheduled_at,omitempty"`
	DeletedAt         *time.Time       `json:"deleted_at,omitempty"`
}

// NewTask creates a new pending Task with the given name and category.
// It generates the task ID and stamps the creation timestamps.
// Returns an error if validation fails.
func NewTask(name, category string) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:          uuid.New(),
		Name:        name,
		Category:    category,
		Status:      TaskStatusPending,
		Priority:    TaskPriorityMedium,
		Mode:        ExecutionModeAsync,
		RetryPolicy: DefaultRetryPolicy(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Name == "" {
		return ErrEmptyTaskName
	}

	if t.Category == "" {
		return ErrEmptyTaskCategory
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if !isValidPriority(t.Priority) {
		return ErrInvalidPriority
	}

	if t.Mode != ExecutionModeSync && t.Mode != ExecutionModeAsync {
		return ErrInvalidMode
	}

	return nil
}

// IsTerminal reports whether the task has reached a final status.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled:
		return true
	case TaskStatusFailed:
		return t.RetryCount >= t.RetryPolicy.MaxRetries
	default:
		return false
	}
}

// CanTransition reports whether moving from the task's current status
// to the target status is a legal state-machine edge.
//
// Legal edges: pending -> running -> {completed, failed}; any
// non-terminal -> cancelled; failed -> pending only through MarkRetry.
func (t *Task) CanTransition(target TaskStatus) bool {
	switch target {
	case TaskStatusRunning:
		return t.Status == TaskStatusPending
	case TaskStatusCompleted, TaskStatusFailed:
		return t.Status == TaskStatusRunning
	case TaskStatusCancelled:
		return t.Status == TaskStatusPending || t.Status == TaskStatusRunning
	default:
		return false
	}
}

// TransitionTo moves the task to the target status, stamping the
// lifecycle timestamps that belong to the edge. Returns
// ErrInvalidTransition for illegal edges; the task is left unchanged.
func (t *Task) TransitionTo(target TaskStatus) error {
	if !t.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, target)
	}

	now := time.Now().UTC()
	switch target {
	case TaskStatusRunning:
		t.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		t.CompletedAt = &now
	}

	t.Status = target
	t.UpdatedAt = now
	return nil
}

// UpdateProgress records execution progress. The percentage is clamped
// to [0,100] and may never decrease within an attempt.
func (t *Task) UpdateProgress(currentStep, totalSteps int, percentage float64) error {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	if percentage < t.Progress.Percentage {
		return fmt.Errorf("%w: %.1f < %.1f", ErrProgressRegression, percentage, t.Progress.Percentage)
	}

	t.Progress = TaskProgress{
		CurrentStep: currentStep,
		TotalSteps:  totalSteps,
		Percentage:  percentage,
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRetry reopens a failed task for another attempt: status back to
// pending, retry counter incremented, execution timestamps cleared, and
// scheduled_at set to now plus the policy's exponential backoff delay.
// The new attempt starts with fresh progress.
func (t *Task) MarkRetry() error {
	if t.Status != TaskStatusFailed {
		return fmt.Errorf("%w: status is %s", ErrNotRetryable, t.Status)
	}

	if t.RetryCount >= t.RetryPolicy.MaxRetries {
		return fmt.Errorf("%w: %d of %d retries used", ErrRetriesExhausted, t.RetryCount, t.RetryPolicy.MaxRetries)
	}

	now := time.Now().UTC()
	t.RetryCount++
	scheduledAt := now.Add(t.RetryPolicy.Delay(t.RetryCount))

	t.Status = TaskStatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
	t.ScheduledAt = &scheduledAt
	t.Progress = TaskProgress{}
	t.UpdatedAt = now
	return nil
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// isValidPriority checks if the given priority is a valid TaskPriority.
func isValidPriority(priority TaskPriority) bool {
	switch priority {
	case TaskPriorityHigh, TaskPriorityMedium, TaskPriorityLow:
		return true
	default:
		return false
	}
}
