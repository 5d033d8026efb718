package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/grimoirekb/grimoire/internal/domain"
)

// MockExecutor implements task.Executor with overridable behavior and
// call tracking.
type MockExecutor struct {
	ExecuteFn          func(ctx context.Context, t *domain.Task) (*domain.TaskResult, error)
	ValidateFn         func(t *domain.Task) error
	EstimateDurationFn func(t *domain.Task) time.Duration

	// Default return values used when ExecuteFn is unset.
	Result *domain.TaskResult
	Err    error

	mu           sync.Mutex
	executeCalls int
}

// Execute implements task.Executor.
func (m *MockExecutor) Execute(ctx context.Context, t *domain.Task) (*domain.TaskResult, error) {
	m.mu.Lock()
	m.executeCalls++
	m.mu.Unlock()

	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, t)
	}
	return m.Result, m.Err
}

// Validate implements task.Executor.
func (m *MockExecutor) Validate(t *domain.Task) error {
	if m.ValidateFn != nil {
		return m.ValidateFn(t)
	}
	return nil
}

// EstimateDuration implements task.Executor.
func (m *MockExecutor) EstimateDuration(t *domain.Task) time.Duration {
	if m.EstimateDurationFn != nil {
		return m.EstimateDurationFn(t)
	}
	return time.Second
}

// ExecuteCalls reports how many times Execute has been invoked.
func (m *MockExecutor) ExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeCalls
}
