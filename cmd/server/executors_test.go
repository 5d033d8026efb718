package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoirekb/grimoire/internal/domain"
)

func TestEchoExecutor(t *testing.T) {
	t.Parallel()

	executor := &echoExecutor{}

	tk, err := domain.NewTask("smoke check", "system.echo")
	require.NoError(t, err)
	tk.Params = map[string]any{"message": "hello"}

	result, err := executor.Execute(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, result.Status)
	assert.Equal(t, tk.Params, result.Data)

	assert.NoError(t, executor.Validate(tk))
	assert.Equal(t, time.Second, executor.EstimateDuration(tk))

	tk.Params = map[string]any{"delay_ms": float64(250)}
	assert.Equal(t, 250*time.Millisecond, executor.EstimateDuration(tk))
}

func TestEchoExecutorHonorsCancellation(t *testing.T) {
	t.Parallel()

	executor := &echoExecutor{}

	tk, err := domain.NewTask("smoke check", "system.echo")
	require.NoError(t, err)
	tk.Params = map[string]any{"delay_ms": float64(60000)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = executor.Execute(ctx, tk)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
