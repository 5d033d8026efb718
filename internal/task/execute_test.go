package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/mocks"
	"github.com/grimoirekb/grimoire/internal/task"
)

func TestExecutionTimeoutAlwaysWins(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{
		ExecuteFn: func(execCtx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
			// Ignore the deadline and try to report success anyway.
			<-execCtx.Done()
			time.Sleep(10 * time.Millisecond)
			return domain.NewTaskResult(tk.ID, domain.TaskStatusCompleted), nil
		},
	})

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		Mode:     domain.ExecutionModeSync,
		Timeout:  50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeExecutionTimeout))

	assert.Equal(t, domain.TaskStatusFailed, created.Status)

	results := env.results.Results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.TaskStatusFailed, results[0].Status)
	assert.Contains(t, results[0].ErrorMessage, "timed out after")
	assert.GreaterOrEqual(t, results[0].ExecutionTime, 50*time.Millisecond)
}

func TestExecutorPanicContained(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{
		ExecuteFn: func(execCtx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
			panic("index corrupted")
		},
	})

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		Mode:     domain.ExecutionModeSync,
	})
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeExecutionFailed))
	assert.Equal(t, domain.TaskStatusFailed, created.Status)

	results := env.results.Results()
	require.Len(t, results, 1)
	assert.Contains(t, results[0].ErrorMessage, "executor panicked")
}

func TestExecutionTimeIsCallerMeasured(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{
		ExecuteFn: func(execCtx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
			time.Sleep(20 * time.Millisecond)
			r := domain.NewTaskResult(tk.ID, domain.TaskStatusCompleted)
			// Executors cannot vouch for their own wall time.
			r.ExecutionTime = time.Hour
			return r, nil
		},
	})

	_, result, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		Mode:     domain.ExecutionModeSync,
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.GreaterOrEqual(t, result.ExecutionTime, 20*time.Millisecond)
	assert.Less(t, result.ExecutionTime, time.Minute)
}

func TestCancelRunningTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	started := make(chan struct{})
	registerExecutor(t, env, "index", &mocks.MockExecutor{
		ExecuteFn: func(execCtx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
			close(started)
			<-execCtx.Done()
			return nil, execCtx.Err()
		},
	})

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})
	require.NoError(t, err)

	id, ok, err := env.queue.Pop(ctx, created.Priority)
	require.NoError(t, err)
	require.True(t, ok)

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		env.service.Dispatch(ctx, id)
	}()

	<-started
	require.Equal(t, 1, env.service.InFlight())

	cancelled, err := env.service.CancelTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)

	<-dispatched
	assert.Zero(t, env.service.InFlight())

	// The terminal status survives the attempt unwinding.
	final, err := env.service.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, final.Status)

	results := env.results.Results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.TaskStatusCancelled, results[0].Status)
}

func TestSyncDependenciesNotSatisfied(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	registerExecutor(t, env, "export", &mocks.MockExecutor{})

	upstream, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})
	require.NoError(t, err)

	dependent, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "export notebook",
		Category: "export",
		Mode:     domain.ExecutionModeSync,
		Dependencies: []domain.TaskDependency{
			{TaskID: upstream.ID, Type: domain.DependencyTypeCompletion},
		},
	})
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeDependenciesNotSatisfied))
	assert.Equal(t, domain.TaskStatusPending, dependent.Status, "blocked sync task stays pending")
}

func TestDispatchRequeuesBlockedTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	blockedExec := &mocks.MockExecutor{}
	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	registerExecutor(t, env, "export", blockedExec)

	upstream, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})
	require.NoError(t, err)

	dependent, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "export notebook",
		Category: "export",
		Dependencies: []domain.TaskDependency{
			{TaskID: upstream.ID, Type: domain.DependencyTypeSuccess},
		},
	})
	require.NoError(t, err)

	// Dispatching the dependent while the upstream is still pending
	// pushes it back to the tail of its tier.
	env.service.Dispatch(ctx, dependent.ID)
	assert.Zero(t, blockedExec.ExecuteCalls())

	n, err := env.queue.Len(ctx, dependent.Priority)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "blocked task rejoins the queue behind the upstream")

	// Run the upstream; the gate now opens.
	upID, ok, err := env.queue.Pop(ctx, upstream.Priority)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, upstream.ID, upID)
	env.service.Dispatch(ctx, upID)

	depID, ok, err := env.queue.Pop(ctx, dependent.Priority)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dependent.ID, depID)
	env.service.Dispatch(ctx, depID)

	assert.Equal(t, 1, blockedExec.ExecuteCalls())

	final, err := env.service.GetTask(ctx, dependent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
}

func TestFailedDependencyNeverOpensGate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{Err: assert.AnError})
	registerExecutor(t, env, "export", &mocks.MockExecutor{})

	upstream, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:        "reindex notebook",
		Category:    "index",
		Mode:        domain.ExecutionModeSync,
		RetryPolicy: &domain.RetryPolicy{MaxRetries: 0, DelaySeconds: 1, BackoffMultiplier: 2},
	})
	require.Error(t, err)
	require.Equal(t, domain.TaskStatusFailed, upstream.Status)

	_, _, err = env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "export notebook",
		Category: "export",
		Mode:     domain.ExecutionModeSync,
		Dependencies: []domain.TaskDependency{
			{TaskID: upstream.ID, Type: domain.DependencyTypeCompletion},
		},
	})
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeDependenciesNotSatisfied))
}

func TestDispatchAutoRetryUntilSuccess(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	executor := &mocks.MockExecutor{}
	executor.ExecuteFn = func(execCtx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
		if executor.ExecuteCalls() < 3 {
			return nil, assert.AnError
		}
		return domain.NewTaskResult(tk.ID, domain.TaskStatusCompleted), nil
	}
	registerExecutor(t, env, "index", executor)

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		RetryPolicy: &domain.RetryPolicy{
			MaxRetries:        3,
			DelaySeconds:      0.001,
			BackoffMultiplier: 2,
		},
	})
	require.NoError(t, err)

	// Drain the queue until the task settles: each failed attempt
	// re-enqueues via the automatic retry path.
	require.Eventually(t, func() bool {
		id, ok, popErr := env.service.PopNext(ctx)
		if popErr != nil || !ok {
			return false
		}
		env.service.Dispatch(ctx, id)
		current, getErr := env.service.GetTask(ctx, created.ID)
		return getErr == nil && current.Status == domain.TaskStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	final, err := env.service.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Equal(t, 2, final.RetryCount)
	assert.Equal(t, 3, executor.ExecuteCalls())
}

func TestFailedResultWithNilErrorRecordedAsFailed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{
		ExecuteFn: func(execCtx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
			// Failure signalled through the result, not the error.
			result := domain.NewTaskResult(tk.ID, domain.TaskStatusFailed)
			result.ErrorMessage = "index shard unavailable"
			return result, nil
		},
	})

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		Mode:     domain.ExecutionModeSync,
	})
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeExecutionFailed))

	assert.Equal(t, domain.TaskStatusFailed, created.Status)

	final, err := env.service.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)

	results := env.results.Results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.TaskStatusFailed, results[0].Status)
	assert.Equal(t, "index shard unavailable", results[0].ErrorMessage)

	stats, err := env.service.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Runtime.Failed)
	assert.Zero(t, stats.Runtime.Completed)
}

func TestDispatchAutoRetriesFailedResult(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	executor := &mocks.MockExecutor{}
	executor.ExecuteFn = func(execCtx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
		if executor.ExecuteCalls() < 2 {
			result := domain.NewTaskResult(tk.ID, domain.TaskStatusFailed)
			result.ErrorMessage = "index shard unavailable"
			return result, nil
		}
		return domain.NewTaskResult(tk.ID, domain.TaskStatusCompleted), nil
	}
	registerExecutor(t, env, "index", executor)

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		RetryPolicy: &domain.RetryPolicy{
			MaxRetries:        2,
			DelaySeconds:      0.001,
			BackoffMultiplier: 2,
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		id, ok, popErr := env.service.PopNext(ctx)
		if popErr != nil || !ok {
			return false
		}
		env.service.Dispatch(ctx, id)
		current, getErr := env.service.GetTask(ctx, created.ID)
		return getErr == nil && current.Status == domain.TaskStatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	final, err := env.service.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, 2, executor.ExecuteCalls())
}
