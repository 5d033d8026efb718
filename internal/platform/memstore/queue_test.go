package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFOWithinTier(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	ctx := context.Background()

	first := uuid.New()
	second := uuid.New()
	third := uuid.New()

	for _, id := range []uuid.UUID{first, second, third} {
		require.NoError(t, q.Push(ctx, domain.TaskPriorityHigh, id))
	}

	for _, want := range []uuid.UUID{first, second, third} {
		got, ok, err := q.Pop(ctx, domain.TaskPriorityHigh)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok, err := q.Pop(ctx, domain.TaskPriorityHigh)
	require.NoError(t, err)
	assert.False(t, ok, "drained tier should report empty")
}

func TestTaskQueue_TiersAreIndependent(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	ctx := context.Background()

	highID := uuid.New()
	lowID := uuid.New()
	require.NoError(t, q.Push(ctx, domain.TaskPriorityHigh, highID))
	require.NoError(t, q.Push(ctx, domain.TaskPriorityLow, lowID))

	_, ok, err := q.Pop(ctx, domain.TaskPriorityMedium)
	require.NoError(t, err)
	assert.False(t, ok, "medium tier should be empty")

	got, ok, err := q.Pop(ctx, domain.TaskPriorityLow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lowID, got)

	n, err := q.Len(ctx, domain.TaskPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTaskQueue_Remove(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	ctx := context.Background()

	keep := uuid.New()
	removed := uuid.New()
	require.NoError(t, q.Push(ctx, domain.TaskPriorityMedium, keep))
	require.NoError(t, q.Push(ctx, domain.TaskPriorityMedium, removed))

	require.NoError(t, q.Remove(ctx, domain.TaskPriorityMedium, removed))

	// Removing an absent ID is not an error.
	require.NoError(t, q.Remove(ctx, domain.TaskPriorityMedium, uuid.New()))

	got, ok, err := q.Pop(ctx, domain.TaskPriorityMedium)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, keep, got)

	n, err := q.Len(ctx, domain.TaskPriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestTaskQueue_ConcurrentPopDeliversEachIDOnce exercises the atomic
// pop guarantee the dispatch model relies on: no ID may be delivered to
// more than one consumer.
func TestTaskQueue_ConcurrentPopDeliversEachIDOnce(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	ctx := context.Background()

	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, q.Push(ctx, domain.TaskPriorityHigh, uuid.New()))
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok, err := q.Pop(ctx, domain.TaskPriorityHigh)
				assert.NoError(t, err)
				if !ok {
					return
				}
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total, "all IDs should be delivered")
	for id, count := range seen {
		assert.Equal(t, 1, count, "ID %s delivered more than once", id)
	}
}

func TestCache_SetGetDelete(t *testing.T) {
	t.Parallel()

	c := NewCache()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), 0))

	got, ok, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, c.Delete(ctx, "key"))

	_, ok, err = c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	c := NewCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 20*time.Millisecond))

	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok, "entry should be readable before expiry")

	time.Sleep(40 * time.Millisecond)

	_, ok, err = c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry should be treated as a miss")
}
