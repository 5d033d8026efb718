package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/events"
	"github.com/grimoirekb/grimoire/internal/redact"
	"github.com/grimoirekb/grimoire/internal/store"
)

// dependenciesSatisfied reports whether every dependency of t has
// reached completed status. Both dependency types gate on successful
// completion; a missing or deleted dependency counts as unmet.
func (s *Service) dependenciesSatisfied(ctx context.Context, t *domain.Task) (bool, uuid.UUID, error) {
	for _, dep := range t.Dependencies {
		depTask, err := s.tasks.GetTask(ctx, dep.TaskID)
		if err != nil {
			if store.IsNotFoundError(err) {
				return false, dep.TaskID, nil
			}
			return false, dep.TaskID, fmt.Errorf("failed to load dependency %s: %w", dep.TaskID, err)
		}
		if !dependencyMet(dep.Type, depTask.Status) {
			return false, dep.TaskID, nil
		}
	}
	return true, uuid.Nil, nil
}

// dependencyMet is the single definition of when a dependency gate
// opens. Both dependency types require the upstream task to have
// completed; a failed or cancelled upstream never satisfies a gate.
func dependencyMet(_ domain.DependencyType, status domain.TaskStatus) bool {
	return status == domain.TaskStatusCompleted
}

// executeSync runs a sync-mode task inline during CreateTask. Unmet
// dependencies fail the call and leave the task pending.
func (s *Service) executeSync(ctx context.Context, t *domain.Task) (*domain.TaskResult, error) {
	satisfied, blocking, err := s.dependenciesSatisfied(ctx, t)
	if err != nil {
		return nil, NewError(CodeExecutionFailed, "failed to check dependencies", err)
	}
	if !satisfied {
		return nil, Errorf(CodeDependenciesNotSatisfied,
			"task %s is blocked on dependency %s", t.ID, blocking)
	}

	return s.runAttempt(ctx, t)
}

// runAttempt performs one execution attempt: it moves the task to
// running, invokes the executor under a bounded context, records the
// outcome as a TaskResult, and moves the task to its terminal status.
//
// Timeout always wins: once the execution deadline passes, the attempt
// is recorded as failed whatever the executor eventually returns.
// The executor runs in its own goroutine so a hung executor cannot
// block the attempt beyond its deadline; panics inside the executor
// are contained and recorded as failures.
func (s *Service) runAttempt(ctx context.Context, t *domain.Task) (*domain.TaskResult, error) {
	executor, ok := s.executorFor(t.Category)
	if !ok {
		return nil, Errorf(CodeExecutorNotFound, "no executor registered for category %q", t.Category)
	}

	if err := t.TransitionTo(domain.TaskStatusRunning); err != nil {
		return nil, NewError(CodeInvalidStatus, "cannot start task", err)
	}
	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return nil, NewError(CodeExecutionFailed, "failed to persist running status", err)
	}
	s.uncacheTask(ctx, t.ID)
	s.emit(ctx, events.EventTaskStarted, t)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}

	execCtx, cancel := context.WithCancel(ctx)
	release := s.trackInflight(t.ID, cancel)
	execCtx, timeoutCancel := context.WithTimeout(execCtx, timeout)
	defer func() {
		timeoutCancel()
		cancel()
		release()
	}()

	type attemptOutcome struct {
		result *domain.TaskResult
		err    error
	}

	// Buffered so a late executor return after timeout does not leak
	// the goroutine.
	done := make(chan attemptOutcome, 1)
	started := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptOutcome{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		result, err := executor.Execute(execCtx, t)
		done <- attemptOutcome{result: result, err: err}
	}()

	var (
		result   *domain.TaskResult
		execErr  error
		timedOut bool
	)

	select {
	case outcome := <-done:
		result, execErr = outcome.result, outcome.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			timedOut = true
			execErr = fmt.Errorf("execution timed out after %s", timeout)
		} else {
			execErr = execCtx.Err()
		}
	}

	elapsed := time.Since(started)

	// Persistence must survive caller cancellation so the terminal
	// status and result are never lost.
	persistCtx := context.WithoutCancel(ctx)

	if errors.Is(execErr, context.Canceled) {
		partial := domain.NewTaskResult(t.ID, domain.TaskStatusCancelled)
		partial.ErrorMessage = "execution cancelled"
		partial.ExecutionTime = elapsed
		if err := s.results.CreateResult(persistCtx, partial); err != nil {
			s.logger.Warn("failed to record cancellation result",
				"task_id", t.ID, "error", err)
		}
		// Usually CancelTask already stamped the terminal status; when
		// the caller's context died instead, stamp it here so the task
		// is not stranded in running.
		if err := t.TransitionTo(domain.TaskStatusCancelled); err == nil {
			if err := s.tasks.UpdateTask(persistCtx, t); err != nil {
				s.logger.Error("failed to persist cancellation",
					"task_id", t.ID, "error", err)
			}
		}
		s.uncacheTask(persistCtx, t.ID)
		return partial, Errorf(CodeCancelFailed, "task %s cancelled during execution", t.ID)
	}

	if execErr != nil {
		result = domain.NewTaskResult(t.ID, domain.TaskStatusFailed)
		// Executor errors can echo credentials or paths from the task
		// parameters; scrub before the message becomes queryable.
		result.ErrorMessage = redact.Error(execErr)
	} else {
		if result == nil {
			result = domain.NewTaskResult(t.ID, domain.TaskStatusCompleted)
		}
		result.TaskID = t.ID
		// An executor may signal failure through its returned result
		// instead of an error; that status is honored. Anything other
		// than an explicit failure counts as success.
		if result.Status == domain.TaskStatusFailed {
			result.ErrorMessage = redact.String(result.ErrorMessage)
		} else {
			result.Status = domain.TaskStatusCompleted
		}
	}
	// Execution time is measured here, never trusted from the executor.
	result.ExecutionTime = elapsed

	terminal := domain.TaskStatusCompleted
	if result.Status == domain.TaskStatusFailed {
		terminal = domain.TaskStatusFailed
	}

	if terminal == domain.TaskStatusCompleted {
		if err := t.UpdateProgress(t.Progress.TotalSteps, t.Progress.TotalSteps, 100); err != nil {
			s.logger.Debug("failed to finalize progress", "task_id", t.ID, "error", err)
		}
	}

	if err := t.TransitionTo(terminal); err != nil {
		// The task left running under us (concurrent cancel). Keep the
		// result for the record but do not overwrite the status.
		s.logger.Warn("task changed status during execution",
			"task_id", t.ID, "status", t.Status, "error", err)
	} else if err := s.tasks.UpdateTask(persistCtx, t); err != nil {
		s.logger.Error("failed to persist terminal task status",
			"task_id", t.ID, "status", terminal, "error", err)
	}
	s.uncacheTask(persistCtx, t.ID)

	if err := s.results.CreateResult(persistCtx, result); err != nil {
		s.logger.Error("failed to record task result",
			"task_id", t.ID, "error", err)
	}

	if terminal == domain.TaskStatusCompleted {
		s.completed.Add(1)
		s.emit(persistCtx, events.EventTaskCompleted, t)
		s.logger.Info("task completed",
			"task_id", t.ID,
			"category", t.Category,
			"execution_time", elapsed)
		return result, nil
	}

	s.failed.Add(1)
	s.emit(persistCtx, events.EventTaskFailed, t)
	s.logger.Warn("task failed",
		"task_id", t.ID,
		"category", t.Category,
		"retry_count", t.RetryCount,
		"error", result.ErrorMessage)

	if timedOut {
		return result, NewError(CodeExecutionTimeout, "task execution timed out", execErr)
	}
	if execErr != nil {
		return result, NewError(CodeExecutionFailed, "task execution failed", execErr)
	}
	return result, Errorf(CodeExecutionFailed, "executor reported failure: %s", result.ErrorMessage)
}

// Dispatch runs one queued task end to end: dependency gate, execution
// attempt, and automatic retry scheduling on failure. It is the worker
// entry point for IDs popped off the queue.
//
// A task whose dependencies are unmet goes back to the tail of its
// priority tier. There is no visit cap, so a task whose dependency
// never completes cycles through the queue indefinitely; the warning
// log with the requeue count is the operator's signal.
func (s *Service) Dispatch(ctx context.Context, id uuid.UUID) {
	t, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			s.logger.Warn("queued task no longer exists", "task_id", id)
			return
		}
		s.logger.Error("failed to load queued task", "task_id", id, "error", err)
		return
	}

	// Cancelled or already-run tasks can still surface from the queue
	// if removal raced; drop them.
	if t.Status != domain.TaskStatusPending {
		s.logger.Debug("skipping non-pending queued task",
			"task_id", id, "status", t.Status)
		return
	}

	satisfied, blocking, err := s.dependenciesSatisfied(ctx, t)
	if err != nil {
		s.logger.Error("failed to check dependencies", "task_id", id, "error", err)
		if pushErr := s.queue.Push(ctx, t.Priority, t.ID); pushErr != nil {
			s.logger.Error("failed to requeue task", "task_id", id, "error", pushErr)
		}
		return
	}
	if !satisfied {
		requeues := s.bumpRequeueCount(ctx, t)
		s.logger.Warn("task blocked on dependency, requeued",
			"task_id", t.ID,
			"blocking_task_id", blocking,
			"requeue_count", requeues)
		if err := s.queue.Push(ctx, t.Priority, t.ID); err != nil {
			s.logger.Error("failed to requeue blocked task", "task_id", id, "error", err)
		}
		return
	}

	// The attempt is detached from the poll context so worker shutdown
	// does not abandon a task mid-execution; the attempt stays bounded
	// by its own timeout and the cancel handle.
	_, err = s.runAttempt(context.WithoutCancel(ctx), t)
	if err == nil || (!IsCode(err, CodeExecutionFailed) && !IsCode(err, CodeExecutionTimeout)) {
		return
	}

	s.maybeAutoRetry(ctx, t)
}

// maybeAutoRetry schedules another attempt for a task that just
// failed, while its retry budget lasts. The inter-attempt delay is the
// policy's base delay; the growing backoff lands in scheduled_at via
// RetryTask.
func (s *Service) maybeAutoRetry(ctx context.Context, t *domain.Task) {
	if t.RetryCount >= t.RetryPolicy.MaxRetries {
		s.logger.Warn("task exhausted its retry budget",
			"task_id", t.ID,
			"retry_count", t.RetryCount,
			"max_retries", t.RetryPolicy.MaxRetries)
		return
	}

	delay := time.Duration(t.RetryPolicy.DelaySeconds * float64(time.Second))
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	if _, err := s.RetryTask(ctx, t.ID); err != nil {
		s.logger.Error("automatic retry failed", "task_id", t.ID, "error", err)
	}
}

// bumpRequeueCount tracks how many times a blocked task has cycled
// through the queue, stored in task metadata for observability.
func (s *Service) bumpRequeueCount(ctx context.Context, t *domain.Task) int {
	requeues := 1
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	} else if prev, ok := t.Metadata["requeue_count"].(float64); ok {
		requeues = int(prev) + 1
	} else if prev, ok := t.Metadata["requeue_count"].(int); ok {
		requeues = prev + 1
	}
	t.Metadata["requeue_count"] = requeues

	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		s.logger.Debug("failed to persist requeue count", "task_id", t.ID, "error", err)
	}
	s.uncacheTask(ctx, t.ID)
	return requeues
}
