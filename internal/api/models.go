package api

import (
	"time"

	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/task"
)

// CreateTaskRequest is the request body for creating a task.
type CreateTaskRequest struct {
	Name         string                  `json:"name"          validate:"required,min=1,max=255"`
	Category     string                  `json:"category"      validate:"required,min=1,max=100"`
	Params       map[string]any          `json:"params,omitempty"`
	Priority     string                  `json:"priority,omitempty"       validate:"omitempty,oneof=high medium low"`
	Mode         string                  `json:"mode,omitempty"           validate:"omitempty,oneof=sync async"`
	RetryPolicy  *RetryPolicyRequest     `json:"retry_policy,omitempty"`
	Dependencies []TaskDependencyRequest `json:"dependencies,omitempty"   validate:"dive"`
	TimeoutSecs  float64                 `json:"timeout_seconds,omitempty" validate:"omitempty,gt=0"`
	Metadata     map[string]any          `json:"metadata,omitempty"`
}

// RetryPolicyRequest is the retry policy portion of a create request.
type RetryPolicyRequest struct {
	MaxRetries        int     `json:"max_retries"        validate:"min=0"`
	DelaySeconds      float64 `json:"delay_seconds"      validate:"gt=0"`
	BackoffMultiplier float64 `json:"backoff_multiplier" validate:"gte=1"`
}

// TaskDependencyRequest names one upstream task a new task waits on.
type TaskDependencyRequest struct {
	TaskID string `json:"task_id" validate:"required,uuid"`
	Type   string `json:"type,omitempty" validate:"omitempty,oneof=completion success"`
}

// UpdateProgressRequest is the request body for reporting progress.
type UpdateProgressRequest struct {
	CurrentStep int     `json:"current_step" validate:"min=0"`
	TotalSteps  int     `json:"total_steps"  validate:"min=0"`
	Percentage  float64 `json:"percentage"   validate:"min=0,max=100"`
}

// TaskResponse is the wire form of a task.
type TaskResponse struct {
	ID                string                   `json:"id"`
	Name              string                   `json:"name"`
	Category          string                   `json:"category"`
	Status            string                   `json:"status"`
	Priority          string                   `json:"priority"`
	Mode              string                   `json:"mode"`
	Params            map[string]any           `json:"params,omitempty"`
	RetryPolicy       RetryPolicyResponse      `json:"retry_policy"`
	RetryCount        int                      `json:"retry_count"`
	Dependencies      []TaskDependencyResponse `json:"dependencies,omitempty"`
	Progress          TaskProgressResponse     `json:"progress"`
	EstimatedDuration float64                  `json:"estimated_duration_seconds,omitempty"`
	TimeoutSecs       float64                  `json:"timeout_seconds,omitempty"`
	Metadata          map[string]any           `json:"metadata,omitempty"`
	CreatedBy         string                   `json:"created_by,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	StartedAt         *time.Time               `json:"started_at,omitempty"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
	ScheduledAt       *time.Time               `json:"scheduled_at,omitempty"`
}

// RetryPolicyResponse is the wire form of a retry policy.
type RetryPolicyResponse struct {
	MaxRetries        int     `json:"max_retries"`
	DelaySeconds      float64 `json:"delay_seconds"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// TaskDependencyResponse is the wire form of a dependency.
type TaskDependencyResponse struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
}

// TaskProgressResponse is the wire form of execution progress.
type TaskProgressResponse struct {
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	Percentage  float64 `json:"percentage"`
}

// TaskResultResponse is the wire form of one execution attempt's
// outcome.
type TaskResultResponse struct {
	ID               string         `json:"id"`
	TaskID           string         `json:"task_id"`
	Status           string         `json:"status"`
	Data             map[string]any `json:"data,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ExecutionSeconds float64        `json:"execution_seconds"`
	CreatedAt        time.Time      `json:"created_at"`
}

// CreateTaskResponse is returned from task creation. Result is set
// only for sync-mode tasks.
type CreateTaskResponse struct {
	Task   TaskResponse        `json:"task"`
	Result *TaskResultResponse `json:"result,omitempty"`
}

// TaskListResponse is a page of tasks with the unpaginated total.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:       t.ID.String(),
		Name:     t.Name,
		Category: t.Category,
		Status:   string(t.Status),
		Priority: string(t.Priority),
		Mode:     string(t.Mode),
		Params:   t.Params,
		RetryPolicy: RetryPolicyResponse{
			MaxRetries:        t.RetryPolicy.MaxRetries,
			DelaySeconds:      t.RetryPolicy.DelaySeconds,
			BackoffMultiplier: t.RetryPolicy.BackoffMultiplier,
		},
		RetryCount: t.RetryCount,
		Progress: TaskProgressResponse{
			CurrentStep: t.Progress.CurrentStep,
			TotalSteps:  t.Progress.TotalSteps,
			Percentage:  t.Progress.Percentage,
		},
		EstimatedDuration: t.EstimatedDuration.Seconds(),
		TimeoutSecs:       t.Timeout.Seconds(),
		Metadata:          t.Metadata,
		CreatedBy:         t.CreatedBy,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
		ScheduledAt:       t.ScheduledAt,
	}

	for _, dep := range t.Dependencies {
		resp.Dependencies = append(resp.Dependencies, TaskDependencyResponse{
			TaskID: dep.TaskID.String(),
			Type:   string(dep.Type),
		})
	}

	return resp
}

func resultToResponse(r *domain.TaskResult) TaskResultResponse {
	return TaskResultResponse{
		ID:               r.ID.String(),
		TaskID:           r.TaskID.String(),
		Status:           string(r.Status),
		Data:             r.Data,
		ErrorMessage:     r.ErrorMessage,
		ExecutionSeconds: r.ExecutionTime.Seconds(),
		CreatedAt:        r.CreatedAt,
	}
}

// StatisticsResponse is the wire form of an aggregate snapshot.
type StatisticsResponse struct {
	ByStatus            map[string]int       `json:"by_status"`
	ByCategory          map[string]int       `json:"by_category"`
	ByPriority          map[string]int       `json:"by_priority"`
	AvgExecutionSeconds float64              `json:"avg_execution_seconds"`
	SuccessRate         float64              `json:"success_rate"`
	Runtime             task.RuntimeCounters `json:"runtime"`
	GeneratedAt         time.Time            `json:"generated_at"`
}

func statisticsToResponse(s *task.Statistics) StatisticsResponse {
	resp := StatisticsResponse{
		ByStatus:            make(map[string]int, len(s.ByStatus)),
		ByCategory:          s.ByCategory,
		ByPriority:          make(map[string]int, len(s.ByPriority)),
		AvgExecutionSeconds: s.AvgExecutionSeconds,
		SuccessRate:         s.SuccessRate,
		Runtime:             s.Runtime,
		GeneratedAt:         s.GeneratedAt,
	}
	for status, n := range s.ByStatus {
		resp.ByStatus[string(status)] = n
	}
	for priority, n := range s.ByPriority {
		resp.ByPriority[string(priority)] = n
	}
	return resp
}
