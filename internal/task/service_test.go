package task_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/events"
	"github.com/grimoirekb/grimoire/internal/mocks"
	"github.com/grimoirekb/grimoire/internal/platform/memstore"
	"github.com/grimoirekb/grimoire/internal/store"
	"github.com/grimoirekb/grimoire/internal/task"
)

// testEnv bundles a service with its in-memory backing stores so tests
// can inspect state behind the service's back.
type testEnv struct {
	service *task.Service
	tasks   *mocks.MockTaskStore
	results *mocks.MockTaskResultStore
	queue   *memstore.TaskQueue
	cache   *memstore.Cache
}

func newTestEnv(t *testing.T, config task.ServiceConfig) *testEnv {
	t.Helper()

	env := &testEnv{
		tasks:   mocks.NewMockTaskStore(),
		results: mocks.NewMockTaskResultStore(),
		queue:   memstore.NewTaskQueue(),
		cache:   memstore.NewCache(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.service = task.NewService(env.tasks, env.results, env.queue, env.cache, config, logger)
	return env
}

func registerExecutor(t *testing.T, env *testEnv, category string, executor task.Executor) {
	t.Helper()
	require.NoError(t, env.service.RegisterExecutor(category, executor))
}

func TestLifecycleEvents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	var mu sync.Mutex
	var seen []events.EventType

	emitter := events.NewInMemoryEmitter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	emitter.RegisterHandler(events.HandlerFunc(func(ctx context.Context, event *events.TaskEvent) error {
		mu.Lock()
		seen = append(seen, event.Type)
		mu.Unlock()
		return nil
	}))
	env.service.SetEventEmitter(emitter)

	registerExecutor(t, env, "index", &mocks.MockExecutor{})

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		Mode:     domain.ExecutionModeSync,
	})
	require.NoError(t, err)

	_, err = env.service.CancelTask(ctx, created.ID)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{
		events.EventTaskCreated,
		events.EventTaskStarted,
		events.EventTaskCompleted,
	}, seen)
}

func TestRegisterExecutor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})

	require.NoError(t, env.service.RegisterExecutor("index", &mocks.MockExecutor{}))

	err := env.service.RegisterExecutor("index", &mocks.MockExecutor{})
	assert.Error(t, err, "duplicate category must be rejected")

	assert.Error(t, env.service.RegisterExecutor("", &mocks.MockExecutor{}))
	assert.Error(t, env.service.RegisterExecutor("export", nil))
}

func TestCreateTaskUnknownCategory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	_, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})

	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeExecutorNotFound))

	// Nothing persisted and nothing enqueued.
	page, listErr := env.tasks.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, listErr)
	assert.Zero(t, page.Total)
}

func TestCreateTaskExecutorValidationPrecedesPersistence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{
		ValidateFn: func(tk *domain.Task) error {
			return assert.AnError
		},
	})

	_, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})

	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeValidationFailed))

	page, listErr := env.tasks.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, listErr)
	assert.Zero(t, page.Total, "rejected task must not be persisted")
}

func TestCreateTaskPersistenceFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	env.tasks.CreateTaskFn = func(ctx context.Context, tk *domain.Task) error {
		return assert.AnError
	}

	_, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})

	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeTaskCreationFailed))
}

func TestCreateTaskAsyncEnqueuesByPriority(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})

	created, result, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		Priority: domain.TaskPriorityHigh,
		Params:   map[string]any{"notebook_id": "nb-42"},
		UserID:   "user-1",
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Nil(t, result, "async creation returns no result")

	assert.Equal(t, domain.TaskStatusPending, created.Status)
	assert.Equal(t, domain.TaskPriorityHigh, created.Priority)
	assert.Equal(t, domain.ExecutionModeAsync, created.Mode)
	assert.Equal(t, domain.DefaultRetryPolicy(), created.RetryPolicy)
	assert.Equal(t, time.Second, created.EstimatedDuration)
	assert.Equal(t, "user-1", created.CreatedBy)

	n, err := env.queue.Len(ctx, domain.TaskPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, ok, err := env.queue.Pop(ctx, domain.TaskPriorityHigh)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, id)
}

func TestCreateTaskSyncRunsInline(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "export", &mocks.MockExecutor{
		ExecuteFn: func(ctx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
			r := domain.NewTaskResult(tk.ID, domain.TaskStatusCompleted)
			r.Data = map[string]any{"pages": 12}
			return r, nil
		},
	})

	created, result, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "export notebook",
		Category: "export",
		Mode:     domain.ExecutionModeSync,
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, domain.TaskStatusCompleted, created.Status)
	assert.Equal(t, domain.TaskStatusCompleted, result.Status)
	assert.Equal(t, created.ID, result.TaskID)
	assert.Equal(t, float64(100), created.Progress.Percentage)
	assert.NotNil(t, created.StartedAt)
	assert.NotNil(t, created.CompletedAt)

	// Sync tasks never touch the queue.
	for _, priority := range domain.Priorities {
		n, lenErr := env.queue.Len(ctx, priority)
		require.NoError(t, lenErr)
		assert.Zero(t, n)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})

	_, err := env.service.GetTask(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeNotFound))
}

func TestGetTaskServedFromCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})
	require.NoError(t, err)

	// First read populates the cache.
	first, err := env.service.GetTask(ctx, created.ID)
	require.NoError(t, err)

	// Break the store; the cache must still answer.
	env.tasks.GetTaskFn = func(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
		return nil, assert.AnError
	}

	second, err := env.service.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
}

func TestListTasksFilters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	registerExecutor(t, env, "export", &mocks.MockExecutor{})

	for i := 0; i < 3; i++ {
		_, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
			Name:     "reindex notebook",
			Category: "index",
		})
		require.NoError(t, err)
	}
	_, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "export notebook",
		Category: "export",
		Priority: domain.TaskPriorityLow,
	})
	require.NoError(t, err)

	page, err := env.service.ListTasks(ctx, store.TaskFilter{Category: "index"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	low := domain.TaskPriorityLow
	page, err = env.service.ListTasks(ctx, store.TaskFilter{Priority: &low})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = env.service.ListTasks(ctx, store.TaskFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Len(t, page.Tasks, 2)
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.DeleteTask(ctx, created.ID))

	// Deleted tasks drop off the queue too.
	n, err := env.queue.Len(ctx, created.Priority)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = env.service.GetTask(ctx, created.ID)
	assert.True(t, task.IsCode(err, task.CodeNotFound))
}

func TestCancelPendingTaskRemovesFromQueue(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})
	require.NoError(t, err)

	cancelled, err := env.service.CancelTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	n, err := env.queue.Len(ctx, created.Priority)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelTerminalTaskRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "export", &mocks.MockExecutor{})
	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "export notebook",
		Category: "export",
		Mode:     domain.ExecutionModeSync,
	})
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusCompleted, created.Status)

	_, err = env.service.CancelTask(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeInvalidStatus))
}

func TestRetryTaskOnlyFromFailed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})
	require.NoError(t, err)

	_, err = env.service.RetryTask(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeInvalidStatus))
}

func TestRetryTaskBackoffAndRequeue(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{
		Err: assert.AnError,
	})

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		Mode:     domain.ExecutionModeSync,
		RetryPolicy: &domain.RetryPolicy{
			MaxRetries:        2,
			DelaySeconds:      60,
			BackoffMultiplier: 2,
		},
	})
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeExecutionFailed))

	before := time.Now().UTC()
	retried, err := env.service.RetryTask(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Nil(t, retried.StartedAt)
	assert.Nil(t, retried.CompletedAt)
	assert.Zero(t, retried.Progress.Percentage)

	// First retry backs off by the base delay.
	require.NotNil(t, retried.ScheduledAt)
	assert.WithinDuration(t, before.Add(60*time.Second), *retried.ScheduledAt, 5*time.Second)

	id, ok, err := env.queue.Pop(ctx, retried.Priority)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, id)
}

func TestRetryTaskBudgetExhausted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{
		Err: assert.AnError,
	})

	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
		Mode:     domain.ExecutionModeSync,
		RetryPolicy: &domain.RetryPolicy{
			MaxRetries:        1,
			DelaySeconds:      0.001,
			BackoffMultiplier: 2,
		},
	})
	require.Error(t, err)

	// Burn the single retry through another failed attempt.
	_, err = env.service.RetryTask(ctx, created.ID)
	require.NoError(t, err)
	id, ok, err := env.queue.Pop(ctx, domain.TaskPriorityMedium)
	require.NoError(t, err)
	require.True(t, ok)
	env.service.Dispatch(ctx, id)

	failed, err := env.service.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusFailed, failed.Status)

	_, err = env.service.RetryTask(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeMaxRetriesExceeded))
}

func TestUpdateProgress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	registerExecutor(t, env, "index", &mocks.MockExecutor{})
	created, _, err := env.service.CreateTask(ctx, task.CreateTaskRequest{
		Name:     "reindex notebook",
		Category: "index",
	})
	require.NoError(t, err)

	// Progress reports are only legal while running.
	err = env.service.UpdateProgress(ctx, created.ID, 1, 4, 25)
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeInvalidStatus))
}

func TestProgressNeverRegresses(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, task.ServiceConfig{})
	ctx := context.Background()

	progressErr := make(chan error, 1)
	release := make(chan struct{})

	registerExecutor(t, env, "index", &mocks.MockExecutor{
		ExecuteFn: func(execCtx context.Context, tk *domain.Task) (*domain.TaskResult, error) {
			if err := env.service.UpdateProgress(ctx, tk.ID, 2, 4, 50); err != nil {
				progressErr <- err
				<-release
				return nil, err
			}
			progressErr <- env.service.UpdateProgress(ctx, tk.ID, 1, 4, 25)
			<-release
			return domain.NewTaskResult(tk.ID, domain.TaskStatusCompleted), nil
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = env.service.CreateTask(ctx, task.CreateTaskRequest{
			Name:     "reindex notebook",
			Category: "index",
			Mode:     domain.ExecutionModeSync,
		})
	}()

	err := <-progressErr
	require.Error(t, err)
	assert.True(t, task.IsCode(err, task.CodeValidationFailed))

	close(release)
	<-done
}
