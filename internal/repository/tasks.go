package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskStatusCreated        TaskStatus = "CREATED"
	TaskStatusProcessing     TaskStatus = "PROCESSING"
	TaskStatusFailed         TaskStatus = "FAILED"
	TaskStatusNoAttemptsLeft TaskStatus = "NO_ATTEMPTS_LEFT"
)

// Task is one outbox row: a tracking event waiting to be published to the
// stream. Rows are enqueued in the same transaction as the ledger write and
// deleted after a successful publish.
type Task struct {
	ID            int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	EventData     []byte
	Status        TaskStatus
	AttemptCount  int
	NextAttemptAt sql.NullTime
}

type TaskRepository interface {
	GetPendingTasks(ctx context.Context, limit int, maxAttempts int) ([]*Task, error)
	MarkTaskProcessing(ctx context.Context, taskID int64) error
	DeleteTask(ctx context.Context, taskID int64) error
	UpdateTaskFailure(ctx context.Context, taskID int64, attemptCount int, newStatus TaskStatus, nextAttemptAt time.Time) error
}

type PostgresTaskRepository struct {
	db *sql.DB
}

func NewPostgresTaskRepository(db *sql.DB) *PostgresTaskRepository {
	return &PostgresTaskRepository{db: db}
}

func (r *PostgresTaskRepository) GetPendingTasks(ctx context.Context, limit int, maxAttempts int) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, event_data, status, attempt_count, next_attempt_at
		FROM tasks
		WHERE status IN ($1, $2)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		  AND attempt_count < $3
		ORDER BY created_at
		LIMIT $4`,
		TaskStatusCreated, TaskStatusFailed, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.EventData,
			&t.Status, &t.AttemptCount, &t.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *PostgresTaskRepository) MarkTaskProcessing(ctx context.Context, taskID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2`,
		TaskStatusProcessing, taskID)
	return err
}

func (r *PostgresTaskRepository) DeleteTask(ctx context.Context, taskID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	return err
}

func (r *PostgresTaskRepository) UpdateTaskFailure(ctx context.Context, taskID int64, attemptCount int, newStatus TaskStatus, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, attempt_count = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $4`,
		newStatus, attemptCount, nextAttemptAt, taskID)
	return err
}
