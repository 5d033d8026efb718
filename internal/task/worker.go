package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkerConfig holds the tunables of the polling worker pool.
type WorkerConfig struct {
	// Count is the number of polling goroutines.
	Count int

	// IdleInterval is how long a worker sleeps after finding all queue
	// tiers empty.
	IdleInterval time.Duration

	// ErrorBackoff is how long a worker sleeps after a queue poll
	// error, to avoid hammering a broken backend.
	ErrorBackoff time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Count:        2,
		IdleInterval: time.Second,
		ErrorBackoff: 5 * time.Second,
	}
}

// Worker polls the priority queues and dispatches popped tasks to the
// service. Create one with NewWorker, call Start once, and Stop during
// shutdown; Stop blocks until in-flight dispatches return.
type Worker struct {
	service *Service
	config  WorkerConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWorker creates a Worker over the given service.
func NewWorker(service *Service, config WorkerConfig, logger *slog.Logger) *Worker {
	if config.Count <= 0 {
		config.Count = DefaultWorkerConfig().Count
	}
	if config.IdleInterval <= 0 {
		config.IdleInterval = DefaultWorkerConfig().IdleInterval
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = DefaultWorkerConfig().ErrorBackoff
	}

	return &Worker{
		service: service,
		config:  config,
		logger:  logger,
	}
}

// Start launches the polling goroutines. Calling Start more than once
// has no effect.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)

		w.logger.Info("starting task workers",
			"count", w.config.Count,
			"idle_interval", w.config.IdleInterval)

		for i := 0; i < w.config.Count; i++ {
			w.wg.Add(1)
			go func(id int) {
				defer w.wg.Done()
				w.run(ctx, id)
			}(i)
		}
	})
}

// Stop signals all workers to finish and waits for running dispatches
// to complete. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
		w.logger.Info("task workers stopped")
	})
}

// run is one worker's poll loop. Every popped ID is dispatched on its
// own goroutine and the loop polls again immediately, so a single
// worker can have many executions in flight; it only sleeps when the
// queues are empty or the backend errored.
func (w *Worker) run(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("worker exiting")
			return
		}

		taskID, ok, err := w.service.PopNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue poll failed", "error", err)
			if !sleep(ctx, w.config.ErrorBackoff) {
				return
			}
			continue
		}

		if !ok {
			if !sleep(ctx, w.config.IdleInterval) {
				return
			}
			continue
		}

		logger.Debug("dispatching task", "task_id", taskID)
		// Each dispatch runs in its own goroutine so the loop keeps
		// polling while executions are in flight. The WaitGroup covers
		// dispatches too, so Stop still drains them.
		w.wg.Add(1)
		go func(id uuid.UUID) {
			defer w.wg.Done()
			w.service.Dispatch(ctx, id)
		}(taskID)
	}
}

// sleep blocks for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
