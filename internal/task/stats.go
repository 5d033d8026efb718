package task

import (
	"context"
	"time"

	"github.com/grimoirekb/grimoire/internal/domain"
)

// RuntimeCounters are process-lifetime counters kept by the service,
// reset on restart.
type RuntimeCounters struct {
	Created   uint64 `json:"created"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
	InFlight  int    `json:"in_flight"`
}

// Statistics is an aggregate snapshot of the task system: persisted
// distribution counts, result-derived execution metrics, and runtime
// counters. Snapshots are cached, so consecutive reads within the
// cache TTL may return the same GeneratedAt.
type Statistics struct {
	ByStatus   map[domain.TaskStatus]int   `json:"by_status"`
	ByCategory map[string]int              `json:"by_category"`
	ByPriority map[domain.TaskPriority]int `json:"by_priority"`

	AvgExecutionSeconds float64 `json:"avg_execution_seconds"`

	// SuccessRate is completed over completed plus failed results.
	// Zero when no execution has finished yet.
	SuccessRate float64 `json:"success_rate"`

	Runtime     RuntimeCounters `json:"runtime"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Statistics returns an aggregate snapshot, recomputing at most once
// per StatsCacheTTL.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if s.statsCache != nil && time.Since(s.statsAt) < s.config.StatsCacheTTL {
		return s.statsCache, nil
	}

	stats, err := s.computeStatistics(ctx)
	if err != nil {
		return nil, err
	}

	s.statsCache = stats
	s.statsAt = stats.GeneratedAt
	return stats, nil
}

func (s *Service) computeStatistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.tasks.CountTasks(ctx)
	if err != nil {
		return nil, NewError(CodeExecutionFailed, "failed to count tasks", err)
	}

	resultStats, err := s.results.ResultStats(ctx)
	if err != nil {
		return nil, NewError(CodeExecutionFailed, "failed to aggregate results", err)
	}

	stats := &Statistics{
		ByStatus:            counts.ByStatus,
		ByCategory:          counts.ByCategory,
		ByPriority:          counts.ByPriority,
		AvgExecutionSeconds: resultStats.AvgExecutionSecs,
		Runtime: RuntimeCounters{
			Created:   s.created.Load(),
			Completed: s.completed.Load(),
			Failed:    s.failed.Load(),
			Cancelled: s.cancelled.Load(),
			InFlight:  s.InFlight(),
		},
		GeneratedAt: time.Now().UTC(),
	}

	if finished := resultStats.Completed + resultStats.Failed; finished > 0 {
		stats.SuccessRate = float64(resultStats.Completed) / float64(finished)
	}

	return stats, nil
}
