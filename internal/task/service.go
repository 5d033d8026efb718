package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/events"
	"github.com/grimoirekb/grimoire/internal/store"
)

// ServiceConfig holds the tunables of the task service.
type ServiceConfig struct {
	// DefaultTimeout bounds executor invocations for tasks without a
	// timeout of their own.
	DefaultTimeout time.Duration

	// StatsCacheTTL bounds how stale cached statistics may be.
	StatsCacheTTL time.Duration

	// RecordCacheTTL bounds the task/result read-through cache.
	RecordCacheTTL time.Duration
}

// DefaultServiceConfig returns a ServiceConfig with reasonable defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultTimeout: 5 * time.Minute,
		StatsCacheTTL:  time.Minute,
		RecordCacheTTL: 5 * time.Minute,
	}
}

// Service is the orchestrator of the task engine. It owns the executor
// registry and the in-flight execution handles, and is the sole writer
// of task status and lifecycle timestamps. Construct one instance at
// process start and pass it by reference to all callers.
type Service struct {
	tasks   store.TaskStore
	results store.TaskResultStore
	queue   store.TaskQueue
	cache   store.Cache // optional; nil disables read-through caching
	config  ServiceConfig
	logger  *slog.Logger
	emitter events.Emitter // optional; nil disables lifecycle events

	// mu guards executors and inflight.
	mu        sync.RWMutex
	executors map[string]Executor
	inflight  map[uuid.UUID]context.CancelFunc

	// Process-lifetime counters, exposed by Statistics.
	created   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	running   atomic.Int64

	statsMu    sync.Mutex
	statsCache *Statistics
	statsAt    time.Time
}

// NewService creates a Service over the given backing stores. cache
// may be nil to disable record caching.
func NewService(
	tasks store.TaskStore,
	results store.TaskResultStore,
	queue store.TaskQueue,
	cache store.Cache,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultServiceConfig().DefaultTimeout
	}
	if config.StatsCacheTTL <= 0 {
		config.StatsCacheTTL = DefaultServiceConfig().StatsCacheTTL
	}
	if config.RecordCacheTTL <= 0 {
		config.RecordCacheTTL = DefaultServiceConfig().RecordCacheTTL
	}

	return &Service{
		tasks:     tasks,
		results:   results,
		queue:     queue,
		cache:     cache,
		config:    config,
		logger:    logger,
		executors: make(map[string]Executor),
		inflight:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetEventEmitter enables lifecycle event publication. Call before
// any task activity; not safe to swap while tasks are running.
func (s *Service) SetEventEmitter(emitter events.Emitter) {
	s.emitter = emitter
}

// emit publishes a lifecycle event, best effort.
func (s *Service) emit(ctx context.Context, eventType events.EventType, t *domain.Task) {
	if s.emitter == nil {
		return
	}
	event := events.NewTaskEvent(eventType, t.ID, t.Category, t.RetryCount)
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Warn("lifecycle event delivery failed",
			"event_type", eventType, "task_id", t.ID, "error", err)
	}
}

// RegisterExecutor binds a category to its executor. It is meant to be
// called once per category at process startup, before any task of that
// category is created. Registering a category twice is an error.
func (s *Service) RegisterExecutor(category string, executor Executor) error {
	if category == "" {
		return fmt.Errorf("executor category cannot be empty")
	}
	if executor == nil {
		return fmt.Errorf("executor for category %q cannot be nil", category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executors[category]; exists {
		return fmt.Errorf("executor for category %q already registered", category)
	}

	s.executors[category] = executor
	s.logger.Info("task executor registered", "category", category)
	return nil
}

// executorFor returns the executor registered for category.
func (s *Service) executorFor(category string) (Executor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	executor, ok := s.executors[category]
	return executor, ok
}

// CreateTaskRequest carries the inputs of CreateTask. Zero values get
// the documented defaults.
type CreateTaskRequest struct {
	Name         string
	Category     string
	Params       map[string]any
	Priority     domain.TaskPriority  // default medium
	Mode         domain.ExecutionMode // default async
	RetryPolicy  *domain.RetryPolicy  // default domain.DefaultRetryPolicy
	Schedule     *domain.TaskSchedule
	Dependencies []domain.TaskDependency
	Resources    domain.TaskResource
	Timeout      time.Duration
	UserID       string
	Metadata     map[string]any
}

// CreateTask validates, persists, and (depending on execution mode)
// runs or enqueues a new task.
//
// Validation order: the category must have a registered executor
// (EXECUTOR_NOT_FOUND), the executor must accept the parameters
// (VALIDATION_FAILED), and persistence must succeed
// (TASK_CREATION_FAILED).
//
// In sync mode the task is executed inline and the returned TaskResult
// is non-nil (unless a dependency is unmet, which fails with
// DEPENDENCIES_NOT_SATISFIED and leaves the task pending). In async
// mode the task ID is pushed onto the queue tier matching its priority
// and the result is nil.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*domain.Task, *domain.TaskResult, error) {
	executor, ok := s.executorFor(req.Category)
	if !ok {
		return nil, nil, Errorf(CodeExecutorNotFound, "no executor registered for category %q", req.Category)
	}

	t, err := domain.NewTask(req.Name, req.Category)
	if err != nil {
		return nil, nil, NewError(CodeValidationFailed, "invalid task", err)
	}

	t.Params = req.Params
	if req.Priority != "" {
		t.Priority = req.Priority
	}
	if req.Mode != "" {
		t.Mode = req.Mode
	}
	if req.RetryPolicy != nil {
		t.RetryPolicy = *req.RetryPolicy
	}
	t.Schedule = req.Schedule
	t.Dependencies = req.Dependencies
	t.Resources = req.Resources
	t.Timeout = req.Timeout
	t.Metadata = req.Metadata
	t.CreatedBy = req.UserID
	t.UpdatedBy = req.UserID

	if err := t.Validate(); err != nil {
		return nil, nil, NewError(CodeValidationFailed, "invalid task", err)
	}

	if err := executor.Validate(t); err != nil {
		return nil, nil, NewError(CodeValidationFailed, "executor rejected task parameters", err)
	}

	t.EstimatedDuration = executor.EstimateDuration(t)

	if err := s.tasks.CreateTask(ctx, t); err != nil {
		return nil, nil, NewError(CodeTaskCreationFailed, "failed to persist task", err)
	}
	s.created.Add(1)
	s.emit(ctx, events.EventTaskCreated, t)

	s.logger.Info("task created",
		"task_id", t.ID,
		"category", t.Category,
		"priority", t.Priority,
		"execution_mode", t.Mode)

	if t.Mode == domain.ExecutionModeSync {
		result, err := s.executeSync(ctx, t)
		if err != nil {
			return t, nil, err
		}
		return t, result, nil
	}

	if err := s.queue.Push(ctx, t.Priority, t.ID); err != nil {
		return nil, nil, NewError(CodeTaskCreationFailed, "failed to enqueue task", err)
	}

	return t, nil, nil
}

// GetTask retrieves a task by ID, consulting the record cache first.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if t, ok := s.cachedTask(ctx, id); ok {
		return t, nil
	}

	t, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, Errorf(CodeNotFound, "task %s not found", id)
		}
		return nil, NewError(CodeExecutionFailed, "failed to load task", err)
	}

	s.cacheTask(ctx, t)
	return t, nil
}

// ListTasks retrieves tasks matching the filter, with the total count.
func (s *Service) ListTasks(ctx context.Context, filter store.TaskFilter) (*store.TaskPage, error) {
	page, err := s.tasks.ListTasks(ctx, filter)
	if err != nil {
		return nil, NewError(CodeExecutionFailed, "failed to list tasks", err)
	}
	return page, nil
}

// GetTaskResults retrieves all results recorded for a task, oldest
// attempt first.
func (s *Service) GetTaskResults(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskResult, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	results, err := s.results.ListResultsByTask(ctx, taskID)
	if err != nil {
		return nil, NewError(CodeExecutionFailed, "failed to load task results", err)
	}
	return results, nil
}

// DeleteTask soft-deletes a task. Running tasks cannot be deleted;
// cancel them first. A still-queued task is removed from its queue.
func (s *Service) DeleteTask(ctx context.Context, id uuid.UUID) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if t.Status == domain.TaskStatusRunning {
		return Errorf(CodeInvalidStatus, "cannot delete task %s while running", id)
	}

	if t.Status == domain.TaskStatusPending {
		if err := s.queue.Remove(ctx, t.Priority, t.ID); err != nil {
			s.logger.Warn("failed to remove deleted task from queue",
				"task_id", t.ID, "error", err)
		}
	}

	if err := s.tasks.DeleteTask(ctx, id); err != nil {
		if store.IsNotFoundError(err) {
			return Errorf(CodeNotFound, "task %s not found", id)
		}
		return NewError(CodeExecutionFailed, "failed to delete task", err)
	}

	s.uncacheTask(ctx, id)
	return nil
}

// UpdateProgress records execution progress for a running task. The
// percentage may never decrease within an attempt.
func (s *Service) UpdateProgress(ctx context.Context, id uuid.UUID, currentStep, totalSteps int, percentage float64) error {
	t, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return Errorf(CodeNotFound, "task %s not found", id)
		}
		return NewError(CodeExecutionFailed, "failed to load task", err)
	}

	if t.Status != domain.TaskStatusRunning {
		return Errorf(CodeInvalidStatus, "cannot report progress on %s task %s", t.Status, id)
	}

	if err := t.UpdateProgress(currentStep, totalSteps, percentage); err != nil {
		return NewError(CodeValidationFailed, "invalid progress update", err)
	}

	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return NewError(CodeExecutionFailed, "failed to persist progress", err)
	}

	s.uncacheTask(ctx, id)
	return nil
}

// RetryTask reopens a failed task for another attempt: retry_count is
// incremented, scheduled_at is recomputed with exponential backoff, and
// the task is re-enqueued onto its priority tier.
//
// Only legal from failed status (INVALID_STATUS otherwise); rejected
// with MAX_RETRIES_EXCEEDED once the retry budget is spent.
func (s *Service) RetryTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if t.Status != domain.TaskStatusFailed {
		return nil, Errorf(CodeInvalidStatus, "cannot retry %s task %s", t.Status, id)
	}

	if t.RetryCount >= t.RetryPolicy.MaxRetries {
		return nil, Errorf(CodeMaxRetriesExceeded,
			"task %s has used %d of %d retries", id, t.RetryCount, t.RetryPolicy.MaxRetries)
	}

	if err := t.MarkRetry(); err != nil {
		return nil, NewError(CodeRetryFailed, "failed to mark task for retry", err)
	}

	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return nil, NewError(CodeRetryFailed, "failed to persist retry", err)
	}
	s.uncacheTask(ctx, id)

	// scheduled_at is stored for observability; the FIFO queue does not
	// delay delivery until that instant.
	if err := s.queue.Push(ctx, t.Priority, t.ID); err != nil {
		return nil, NewError(CodeRetryFailed, "failed to re-enqueue task", err)
	}
	s.emit(ctx, events.EventTaskRetried, t)

	s.logger.Info("task scheduled for retry",
		"task_id", t.ID,
		"retry_count", t.RetryCount,
		"scheduled_at", t.ScheduledAt)

	return t, nil
}

// CancelTask cancels a pending or running task. A queued task is
// removed from its tier; an execution in flight in this process gets a
// cooperative cancellation signal, best-effort only. The task is marked
// cancelled regardless of whether the in-flight work halts.
func (s *Service) CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusCancelled:
		return nil, Errorf(CodeInvalidStatus, "cannot cancel %s task %s", t.Status, id)
	}

	if t.Status == domain.TaskStatusPending {
		if err := s.queue.Remove(ctx, t.Priority, t.ID); err != nil {
			s.logger.Warn("failed to remove cancelled task from queue",
				"task_id", t.ID, "error", err)
		}
	}

	// Signal the in-flight execution, if this process is running it.
	s.mu.Lock()
	cancel, running := s.inflight[id]
	s.mu.Unlock()
	if running {
		cancel()
	}

	if err := t.TransitionTo(domain.TaskStatusCancelled); err != nil {
		return nil, NewError(CodeCancelFailed, "illegal cancel transition", err)
	}

	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return nil, NewError(CodeCancelFailed, "failed to persist cancellation", err)
	}

	s.cancelled.Add(1)
	s.uncacheTask(ctx, id)
	s.emit(ctx, events.EventTaskCancelled, t)

	s.logger.Info("task cancelled", "task_id", t.ID, "was_running", running)
	return t, nil
}

// PopNext pops the next task ID to dispatch: strictly highest tier
// first, FIFO within a tier. The second return is false when all tiers
// are empty. Sustained high-tier load can starve lower tiers; that is
// the intended dispatch policy, not round-robin.
func (s *Service) PopNext(ctx context.Context) (uuid.UUID, bool, error) {
	for _, priority := range domain.Priorities {
		id, ok, err := s.queue.Pop(ctx, priority)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("failed to poll %s queue: %w", priority, err)
		}
		if ok {
			return id, true, nil
		}
	}
	return uuid.Nil, false, nil
}

// trackInflight registers the cancel handle of a starting execution and
// returns a release func that removes it again.
func (s *Service) trackInflight(id uuid.UUID, cancel context.CancelFunc) func() {
	s.mu.Lock()
	s.inflight[id] = cancel
	s.mu.Unlock()
	s.running.Add(1)

	return func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		s.running.Add(-1)
	}
}

// InFlight reports the number of executions currently running in this
// process.
func (s *Service) InFlight() int {
	return int(s.running.Load())
}

const taskCacheKeyPrefix = "task:"

func taskCacheKey(id uuid.UUID) string {
	return taskCacheKeyPrefix + id.String()
}

func (s *Service) cachedTask(ctx context.Context, id uuid.UUID) (*domain.Task, bool) {
	if s.cache == nil {
		return nil, false
	}

	raw, ok, err := s.cache.Get(ctx, taskCacheKey(id))
	if err != nil || !ok {
		return nil, false
	}

	var t domain.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		s.logger.Warn("failed to decode cached task, dropping entry",
			"task_id", id, "error", err)
		_ = s.cache.Delete(ctx, taskCacheKey(id))
		return nil, false
	}
	return &t, true
}

func (s *Service) cacheTask(ctx context.Context, t *domain.Task) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, taskCacheKey(t.ID), raw, s.config.RecordCacheTTL); err != nil {
		s.logger.Debug("failed to cache task", "task_id", t.ID, "error", err)
	}
}

func (s *Service) uncacheTask(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, taskCacheKey(id)); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("failed to invalidate task cache", "task_id", id, "error", err)
	}
}
