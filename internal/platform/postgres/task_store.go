package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grimoirekb/grimoire/internal/domain"
	"github.com/grimoirekb/grimoire/internal/platform/logger"
	"github.com/grimoirekb/grimoire/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

const taskColumns = `id, name, category, status, priority, execution_mode, parameters,
	retry_policy, schedule, dependencies, resources, progress, estimated_duration_secs,
	timeout_secs, retry_count, metadata, created_by, updated_by,
	created_at, updated_at, started_at, completed_at, scheduled_at`

// CreateTask persists a new task to the database.
func (s *PostgresTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	row, err := newTaskRow(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23)
	`

	_, err = s.db.ExecContext(ctx, query,
		row.id, row.name, row.category, row.status, row.priority, row.mode,
		row.params, row.retryPolicy, row.schedule, row.dependencies, row.resources,
		row.progress, row.estimatedSecs, row.timeoutSecs, row.retryCount, row.metadata,
		row.createdBy, row.updatedBy, row.createdAt, row.updatedAt,
		row.startedAt, row.completedAt, row.scheduledAt,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"category", task.Category,
			"error", err)
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", store.ErrTaskExists, err)
		}
		return MapError(err)
	}

	return nil
}

// UpdateTask persists the current state of an existing task.
func (s *PostgresTaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	row, err := newTaskRow(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	query := `
		UPDATE tasks
		SET name = $2, category = $3, status = $4, priority = $5, execution_mode = $6,
			parameters = $7, retry_policy = $8, schedule = $9, dependencies = $10,
			resources = $11, progress = $12, estimated_duration_secs = $13,
			timeout_secs = $14, retry_count = $15, metadata = $16, updated_by = $17,
			updated_at = $18, started_at = $19, completed_at = $20, scheduled_at = $21
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query,
		row.id, row.name, row.category, row.status, row.priority, row.mode,
		row.params, row.retryPolicy, row.schedule, row.dependencies, row.resources,
		row.progress, row.estimatedSecs, row.timeoutSecs, row.retryCount, row.metadata,
		row.updatedBy, row.updatedAt, row.startedAt, row.completedAt, row.scheduledAt,
	)
	if err != nil {
		log.Error("failed to update task",
			"task_id", task.ID,
			"status", task.Status,
			"error", err)
		return MapError(err)
	}

	return CheckRowsAffected(result, "task")
}

// GetTask retrieves a task by its unique ID, excluding soft-deleted tasks.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id = $1 AND deleted_at IS NULL
	`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}

	return task, nil
}

// ListTasks retrieves tasks matching the filter, newest first, along
// with the total match count before pagination.
func (s *PostgresTaskStore) ListTasks(ctx context.Context, filter store.TaskFilter) (*store.TaskPage, error) {
	log := logger.FromContext(ctx)

	where := []string{"deleted_at IS NULL"}
	args := []any{}

	appendArg := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Status != nil {
		appendArg("status = $%d", *filter.Status)
	}
	if filter.Category != "" {
		appendArg("category = $%d", filter.Category)
	}
	if filter.Priority != nil {
		appendArg("priority = $%d", *filter.Priority)
	}
	if filter.CreatedBy != "" {
		appendArg("created_by = $%d", filter.CreatedBy)
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM tasks WHERE " + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		log.Error("failed to count tasks", "error", err)
		return nil, MapError(err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM tasks
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, taskColumns, whereClause, len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		log.Error("failed to list tasks", "error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return &store.TaskPage{Tasks: tasks, Total: total}, nil
}

// DeleteTask soft-deletes a task by stamping its deletion marker.
func (s *PostgresTaskStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}

	return CheckRowsAffected(result, "task")
}

// CountTasks aggregates non-deleted tasks by status, category, and priority.
func (s *PostgresTaskStore) CountTasks(ctx context.Context) (*store.TaskCounts, error) {
	query := `
		SELECT status, category, priority, COUNT(*)
		FROM tasks
		WHERE deleted_at IS NULL
		GROUP BY status, category, priority
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	counts := &store.TaskCounts{
		ByStatus:   make(map[domain.TaskStatus]int),
		ByCategory: make(map[string]int),
		ByPriority: make(map[domain.TaskPriority]int),
	}

	for rows.Next() {
		var (
			status   domain.TaskStatus
			category string
			priority domain.TaskPriority
			n        int
		)
		if err := rows.Scan(&status, &category, &priority, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts.ByStatus[status] += n
		counts.ByCategory[category] += n
		counts.ByPriority[priority] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", err)
	}

	return counts, nil
}

// taskRow holds a task flattened into database column values. The
// composite value objects travel as JSONB.
type taskRow struct {
	id            uuid.UUID
	name          string
	category      string
	status        domain.TaskStatus
	priority      domain.TaskPriority
	mode          domain.ExecutionMode
	params        []byte
	retryPolicy   []byte
	schedule      []byte
	dependencies  []byte
	resources     []byte
	progress      []byte
	estimatedSecs sql.NullFloat64
	timeoutSecs   sql.NullFloat64
	retryCount    int
	metadata      []byte
	createdBy     sql.NullString
	updatedBy     sql.NullString
	createdAt     time.Time
	updatedAt     time.Time
	startedAt     sql.NullTime
	completedAt   sql.NullTime
	scheduledAt   sql.NullTime
}

func newTaskRow(task *domain.Task) (*taskRow, error) {
	row := &taskRow{
		id:         task.ID,
		name:       task.Name,
		category:   task.Category,
		status:     task.Status,
		priority:   task.Priority,
		mode:       task.Mode,
		retryCount: task.RetryCount,
		createdAt:  task.CreatedAt,
		updatedAt:  task.UpdatedAt,
	}

	var err error
	if task.Params != nil {
		if row.params, err = json.Marshal(task.Params); err != nil {
			return nil, err
		}
	}
	if row.retryPolicy, err = json.Marshal(task.RetryPolicy); err != nil {
		return nil, err
	}
	if task.Schedule != nil {
		if row.schedule, err = json.Marshal(task.Schedule); err != nil {
			return nil, err
		}
	}
	if task.Dependencies != nil {
		if row.dependencies, err = json.Marshal(task.Dependencies); err != nil {
			return nil, err
		}
	}
	if row.resources, err = json.Marshal(task.Resources); err != nil {
		return nil, err
	}
	if row.progress, err = json.Marshal(task.Progress); err != nil {
		return nil, err
	}
	if task.Metadata != nil {
		if row.metadata, err = json.Marshal(task.Metadata); err != nil {
			return nil, err
		}
	}

	if task.EstimatedDuration > 0 {
		row.estimatedSecs = sql.NullFloat64{Float64: task.EstimatedDuration.Seconds(), Valid: true}
	}
	if task.Timeout > 0 {
		row.timeoutSecs = sql.NullFloat64{Float64: task.Timeout.Seconds(), Valid: true}
	}
	if task.CreatedBy != "" {
		row.createdBy = sql.NullString{String: task.CreatedBy, Valid: true}
	}
	if task.UpdatedBy != "" {
		row.updatedBy = sql.NullString{String: task.UpdatedBy, Valid: true}
	}
	if task.StartedAt != nil {
		row.startedAt = sql.NullTime{Time: *task.StartedAt, Valid: true}
	}
	if task.CompletedAt != nil {
		row.completedAt = sql.NullTime{Time: *task.CompletedAt, Valid: true}
	}
	if task.ScheduledAt != nil {
		row.scheduledAt = sql.NullTime{Time: *task.ScheduledAt, Valid: true}
	}

	return row, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*domain.Task, error) {
	var row taskRow

	err := r.Scan(
		&row.id, &row.name, &row.category, &row.status, &row.priority, &row.mode,
		&row.params, &row.retryPolicy, &row.schedule, &row.dependencies, &row.resources,
		&row.progress, &row.estimatedSecs, &row.timeoutSecs, &row.retryCount, &row.metadata,
		&row.createdBy, &row.updatedBy, &row.createdAt, &row.updatedAt,
		&row.startedAt, &row.completedAt, &row.scheduledAt,
	)
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		ID:         row.id,
		Name:       row.name,
		Category:   row.category,
		Status:     row.status,
		Priority:   row.priority,
		Mode:       row.mode,
		RetryCount: row.retryCount,
		CreatedAt:  row.createdAt,
		UpdatedAt:  row.updatedAt,
	}

	if len(row.params) > 0 {
		if err := json.Unmarshal(row.params, &task.Params); err != nil {
			return nil, fmt.Errorf("failed to decode task parameters: %w", err)
		}
	}
	if len(row.retryPolicy) > 0 {
		if err := json.Unmarshal(row.retryPolicy, &task.RetryPolicy); err != nil {
			return nil, fmt.Errorf("failed to decode retry policy: %w", err)
		}
	}
	if len(row.schedule) > 0 {
		task.Schedule = &domain.TaskSchedule{}
		if err := json.Unmarshal(row.schedule, task.Schedule); err != nil {
			return nil, fmt.Errorf("failed to decode schedule: %w", err)
		}
	}
	if len(row.dependencies) > 0 {
		if err := json.Unmarshal(row.dependencies, &task.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to decode dependencies: %w", err)
		}
	}
	if len(row.resources) > 0 {
		if err := json.Unmarshal(row.resources, &task.Resources); err != nil {
			return nil, fmt.Errorf("failed to decode resources: %w", err)
		}
	}
	if len(row.progress) > 0 {
		if err := json.Unmarshal(row.progress, &task.Progress); err != nil {
			return nil, fmt.Errorf("failed to decode progress: %w", err)
		}
	}
	if len(row.metadata) > 0 {
		if err := json.Unmarshal(row.metadata, &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	if row.estimatedSecs.Valid {
		task.EstimatedDuration = time.Duration(row.estimatedSecs.Float64 * float64(time.Second))
	}
	if row.timeoutSecs.Valid {
		task.Timeout = time.Duration(row.timeoutSecs.Float64 * float64(time.Second))
	}
	task.CreatedBy = row.createdBy.String
	task.UpdatedBy = row.updatedBy.String
	if row.startedAt.Valid {
		t := row.startedAt.Time
		task.StartedAt = &t
	}
	if row.completedAt.Valid {
		t := row.completedAt.Time
		task.CompletedAt = &t
	}
	if row.scheduledAt.Valid {
		t := row.scheduledAt.Time
		task.ScheduledAt = &t
	}

	return task, nil
}
