package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/store"
)

// MockTaskResultStore implements store.TaskResultStore over in-memory
// slices. Set a Fn field to override or fail a specific method.
type MockTaskResultStore struct {
	mu      sync.Mutex
	results []*domain.TaskResult

	CreateResultFn      func(ctx context.Context, r *domain.TaskResult) error
	GetResultFn         func(ctx context.Context, id uuid.UUID) (*domain.TaskResult, error)
	ListResultsByTaskFn func(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskResult, error)
	ResultStatsFn       func(ctx context.Context) (*store.ResultStats, error)
}

// NewMockTaskResultStore creates an empty MockTaskResultStore.
func NewMockTaskResultStore() *MockTaskResultStore {
	return &MockTaskResultStore{}
}

func copyResult(r *domain.TaskResult) *domain.TaskResult {
	clone := *r
	return &clone
}

// CreateResult implements store.TaskResultStore.
func (m *MockTaskResultStore) CreateResult(ctx context.Context, r *domain.TaskResult) error {
	if m.CreateResultFn != nil {
		return m.CreateResultFn(ctx, r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, copyResult(r))
	return nil
}

// GetResult implements store.TaskResultStore.
func (m *MockTaskResultStore) GetResult(ctx context.Context, id uuid.UUID) (*domain.TaskResult, error) {
	if m.GetResultFn != nil {
		return m.GetResultFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.results {
		if r.ID == id {
			return copyResult(r), nil
		}
	}
	return nil, store.ErrTaskResultNotFound
}

// ListResultsByTask implements store.TaskResultStore, oldest first.
func (m *MockTaskResultStore) ListResultsByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskResult, error) {
	if m.ListResultsByTaskFn != nil {
		return m.ListResultsByTaskFn(ctx, taskID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.TaskResult
	for _, r := range m.results {
		if r.TaskID == taskID {
			matched = append(matched, copyResult(r))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

// ResultStats implements store.TaskResultStore.
func (m *MockTaskResultStore) ResultStats(ctx context.Context) (*store.ResultStats, error) {
	if m.ResultStatsFn != nil {
		return m.ResultStatsFn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &store.ResultStats{}
	var completedSecs float64
	for _, r := range m.results {
		switch r.Status {
		case domain.TaskStatusCompleted:
			stats.Completed++
			completedSecs += r.ExecutionTime.Seconds()
		case domain.TaskStatusFailed:
			stats.Failed++
		}
	}
	if stats.Completed > 0 {
		stats.AvgExecutionSecs = completedSecs / float64(stats.Completed)
	}
	return stats, nil
}

// Results returns a snapshot of every recorded result, in insertion
// order.
func (m *MockTaskResultStore) Results() []*domain.TaskResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.TaskResult, len(m.results))
	for i, r := range m.results {
		out[i] = copyResult(r)
	}
	return out
}
