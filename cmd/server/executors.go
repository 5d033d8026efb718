package main

import (
	"context"
	"time"

	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/task"
)

// registerExecutors binds the built-in executors. Deployments add
// their own domain executors (indexing, extraction, vectorization)
// here.
func registerExecutors(service *task.Service) error {
	return service.RegisterExecutor("system.echo", &echoExecutor{})
}

// echoExecutor is the built-in smoke-test executor: it sleeps for an
// optional delay_ms parameter and returns the task parameters as the
// result payload.
type echoExecutor struct{}

func (e *echoExecutor) Execute(ctx context.Context, t *domain.Task) (*domain.TaskResult, error) {
	if ms, ok := t.Params["delay_ms"].(float64); ok && ms > 0 {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result := domain.NewTaskResult(t.ID, domain.TaskStatusCompleted)
	result.Data = t.Params
	return result, nil
}

func (e *echoExecutor) Validate(t *domain.Task) error {
	return nil
}

func (e *echoExecutor) EstimateDuration(t *domain.Task) time.Duration {
	if ms, ok := t.Params["delay_ms"].(float64); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Second
}
