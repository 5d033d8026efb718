package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/store"
)

// MockTaskStore implements store.TaskStore over an in-memory map.
// Tasks are deep-ish copied on the way in and out so tests cannot
// mutate stored state by accident. Set a Fn field to override or fail
// a specific method.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	CreateTaskFn func(ctx context.Context, t *domain.Task) error
	UpdateTaskFn func(ctx context.Context, t *domain.Task) error
	GetTaskFn    func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListTasksFn  func(ctx context.Context, filter store.TaskFilter) (*store.TaskPage, error)
	DeleteTaskFn func(ctx context.Context, id uuid.UUID) error
	CountTasksFn func(ctx context.Context) (*store.TaskCounts, error)
}

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func copyTask(t *domain.Task) *domain.Task {
	clone := *t
	return &clone
}

// CreateTask implements store.TaskStore.
func (m *MockTaskStore) CreateTask(ctx context.Context, t *domain.Task) error {
	if m.CreateTaskFn != nil {
		return m.CreateTaskFn(ctx, t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[t.ID]; exists {
		return store.ErrTaskExists
	}
	m.tasks[t.ID] = copyTask(t)
	return nil
}

// UpdateTask implements store.TaskStore.
func (m *MockTaskStore) UpdateTask(ctx context.Context, t *domain.Task) error {
	if m.UpdateTaskFn != nil {
		return m.UpdateTaskFn(ctx, t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.tasks[t.ID]
	if !exists || existing.DeletedAt != nil {
		return store.ErrTaskNotFound
	}
	m.tasks[t.ID] = copyTask(t)
	return nil
}

// GetTask implements store.TaskStore.
func (m *MockTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if m.GetTaskFn != nil {
		return m.GetTaskFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tasks[id]
	if !exists || t.DeletedAt != nil {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(t), nil
}

// ListTasks implements store.TaskStore with filter and pagination
// semantics matching the postgres store: newest first, default limit
// applied when the filter leaves Limit at zero.
func (m *MockTaskStore) ListTasks(ctx context.Context, filter store.TaskFilter) (*store.TaskPage, error) {
	if m.ListTasksFn != nil {
		return m.ListTasksFn(ctx, filter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Task
	for _, t := range m.tasks {
		if t.DeletedAt != nil {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if filter.Priority != nil && t.Priority != *filter.Priority {
			continue
		}
		if filter.CreatedBy != "" && t.CreatedBy != filter.CreatedBy {
			continue
		}
		matched = append(matched, copyTask(t))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return &store.TaskPage{Tasks: matched[offset:end], Total: total}, nil
}

// DeleteTask implements store.TaskStore (soft delete).
func (m *MockTaskStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if m.DeleteTaskFn != nil {
		return m.DeleteTaskFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tasks[id]
	if !exists || t.DeletedAt != nil {
		return store.ErrTaskNotFound
	}
	now := t.UpdatedAt
	t.DeletedAt = &now
	return nil
}

// CountTasks implements store.TaskStore.
func (m *MockTaskStore) CountTasks(ctx context.Context) (*store.TaskCounts, error) {
	if m.CountTasksFn != nil {
		return m.CountTasksFn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	counts := &store.TaskCounts{
		ByStatus:   make(map[domain.TaskStatus]int),
		ByCategory: make(map[string]int),
		ByPriority: make(map[domain.TaskPriority]int),
	}
	for _, t := range m.tasks {
		if t.DeletedAt != nil {
			continue
		}
		counts.ByStatus[t.Status]++
		counts.ByCategory[t.Category]++
		counts.ByPriority[t.Priority]++
	}
	return counts, nil
}
