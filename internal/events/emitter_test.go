package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitEventDeliversToAllHandlers(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEmitter(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var got []*TaskEvent
	emitter.RegisterHandler(HandlerFunc(func(ctx context.Context, event *TaskEvent) error {
		got = append(got, event)
		return nil
	}))

	failing := errors.New("handler broke")
	emitter.RegisterHandler(HandlerFunc(func(ctx context.Context, event *TaskEvent) error {
		return failing
	}))

	var alsoGot int
	emitter.RegisterHandler(HandlerFunc(func(ctx context.Context, event *TaskEvent) error {
		alsoGot++
		return nil
	}))

	taskID := uuid.New()
	event := NewTaskEvent(EventTaskCompleted, taskID, "index", 1)

	err := emitter.EmitEvent(context.Background(), event)
	require.ErrorIs(t, err, failing)

	// The failing handler did not block delivery to the others.
	require.Len(t, got, 1)
	assert.Equal(t, taskID, got[0].TaskID)
	assert.Equal(t, EventTaskCompleted, got[0].Type)
	assert.Equal(t, 1, alsoGot)
}

func TestEmitEventNoHandlers(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEmitter(slog.New(slog.NewTextHandler(io.Discard, nil)))
	event := NewTaskEvent(EventTaskCreated, uuid.New(), "index", 0)
	assert.NoError(t, emitter.EmitEvent(context.Background(), event))
}
