package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/platform/logger"
	"github.com/grimoirekb/grimoire/internal/store"
)

// PostgresTaskResultStore implements the store.TaskResultStore interface
// using PostgreSQL. Results are append-only.
type PostgresTaskResultStore struct {
	db store.DBTX
}

// NewPostgresTaskResultStore creates a new PostgresTaskResultStore.
func NewPostgresTaskResultStore(db store.DBTX) *PostgresTaskResultStore {
	return &PostgresTaskResultStore{
		db: db,
	}
}

// CreateResult persists a new task result.
func (s *PostgresTaskResultStore) CreateResult(ctx context.Context, result *domain.TaskResult) error {
	log := logger.FromContext(ctx)

	if err := result.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	var data, metadata []byte
	var err error
	if result.Data != nil {
		if data, err = json.Marshal(result.Data); err != nil {
			return fmt.Errorf("failed to encode result data: %w", err)
		}
	}
	if result.Metadata != nil {
		if metadata, err = json.Marshal(result.Metadata); err != nil {
			return fmt.Errorf("failed to encode result metadata: %w", err)
		}
	}

	query := `
		INSERT INTO task_results (id, task_id, status, result_data, error_message,
			execution_time_secs, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		result.ID,
		result.TaskID,
		result.Status,
		data,
		nullString(result.ErrorMessage),
		result.ExecutionTime.Seconds(),
		metadata,
		result.CreatedAt,
	)
	if err != nil {
		log.Error("failed to save task result",
			"result_id", result.ID,
			"task_id", result.TaskID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetResult retrieves a result by its unique ID.
func (s *PostgresTaskResultStore) GetResult(ctx context.Context, id uuid.UUID) (*domain.TaskResult, error) {
	query := `
		SELECT id, task_id, status, result_data, error_message,
			execution_time_secs, metadata, created_at
		FROM task_results
		WHERE id = $1
	`

	result, err := scanResult(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskResultNotFound
		}
		return nil, MapError(err)
	}

	return result, nil
}

// ListResultsByTask retrieves all results recorded for a task, oldest
// attempt first.
func (s *PostgresTaskResultStore) ListResultsByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.TaskResult, error) {
	query := `
		SELECT id, task_id, status, result_data, error_message,
			execution_time_secs, metadata, created_at
		FROM task_results
		WHERE task_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var results []*domain.TaskResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}

	return results, nil
}

// ResultStats aggregates completed/failed counts and the average
// execution time of completed results.
func (s *PostgresTaskResultStore) ResultStats(ctx context.Context) (*store.ResultStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COALESCE(AVG(execution_time_secs) FILTER (WHERE status = $1), 0)
		FROM task_results
	`

	stats := &store.ResultStats{}
	err := s.db.QueryRowContext(ctx, query,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
	).Scan(&stats.Completed, &stats.Failed, &stats.AvgExecutionSecs)
	if err != nil {
		return nil, MapError(err)
	}

	return stats, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func scanResult(r rowScanner) (*domain.TaskResult, error) {
	var (
		result       domain.TaskResult
		data         []byte
		metadata     []byte
		errorMessage sql.NullString
		execSecs     float64
		createdAt    time.Time
	)

	err := r.Scan(
		&result.ID, &result.TaskID, &result.Status, &data, &errorMessage,
		&execSecs, &metadata, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &result.Data); err != nil {
			return nil, fmt.Errorf("failed to decode result data: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &result.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode result metadata: %w", err)
		}
	}

	result.ErrorMessage = errorMessage.String
	result.ExecutionTime = time.Duration(execSecs * float64(time.Second))
	result.CreatedAt = createdAt

	return &result, nil
}
