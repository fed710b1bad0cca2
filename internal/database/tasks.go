package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/models"

	"github.com/google/uuid"
)

const taskColumns = `id, title, status, scheduled_at, assigned_technicians, created_by, reminder_at, reminder_sent, created_at, updated_at`

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task      models.Task
		assignees string
		reminder  sql.NullTime
	)
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Status,
		&task.ScheduledAt,
		&assignees,
		&task.CreatedBy,
		&reminder,
		&task.ReminderSent,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if assignees != "" {
		if err := json.Unmarshal([]byte(assignees), &task.AssignedTechnicians); err != nil {
			return nil, fmt.Errorf("decode assignees of task %s: %w", task.ID, err)
		}
	}
	task.ReminderAt = timePtr(reminder)
	task.ScheduledAt = task.ScheduledAt.UTC()
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}

func encodeAssignees(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encode assignees: %w", err)
	}
	return string(raw), nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id string) (*models.Task, error) {
	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func writeTaskTx(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	assignees, err := encodeAssignees(task.AssignedTechnicians)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            status = excluded.status,
            scheduled_at = excluded.scheduled_at,
            assigned_technicians = excluded.assigned_technicians,
            created_by = excluded.created_by,
            reminder_at = excluded.reminder_at,
            reminder_sent = excluded.reminder_sent,
            created_at = excluded.created_at,
            updated_at = excluded.updated_at`,
		task.ID,
		task.Title,
		task.Status,
		utc(task.ScheduledAt),
		assignees,
		task.CreatedBy,
		nullTime(task.ReminderAt),
		task.ReminderSent,
		utc(task.CreatedAt),
		utc(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to write task %s: %w", task.ID, err)
	}
	return nil
}

// SaveTask creates or replaces a locally authored task.
func (db *DB) SaveTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.AssignedTechnicians = models.NormalizeAssignees(task.AssignedTechnicians)

	return db.withTx(ctx, func(tx *sql.Tx) error {
		return writeTaskTx(ctx, tx, task)
	})
}

// UpsertTasks merges remote tasks by id with last-write-wins on updated_at.
// Equal timestamps take the remote copy so server-side flags land locally.
func (db *DB) UpsertTasks(ctx context.Context, tasks []models.Task) (int, error) {
	applied := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i := range tasks {
			incoming := tasks[i]
			if incoming.ID == "" {
				continue
			}

			existing, err := getTaskTx(ctx, tx, incoming.ID)
			switch {
			case errors.Is(err, models.ErrNotFound):
				existing = nil
			case err != nil:
				return err
			case existing.UpdatedAt.After(incoming.UpdatedAt):
				continue
			}

			if err := writeTaskTx(ctx, tx, models.MergeTask(existing, &incoming)); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// GetTask returns a task by id or models.ErrNotFound.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	task, err := scanTask(db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetTasks returns every local task ordered by schedule.
func (db *DB) GetTasks(ctx context.Context) ([]models.Task, error) {
	return db.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY scheduled_at ASC, id ASC`)
}

// ReminderCandidates returns non-terminal tasks with a reminder that have no
// notification log entry yet.
func (db *DB) ReminderCandidates(ctx context.Context) ([]models.Task, error) {
	return db.queryTasks(ctx, `
        SELECT t.id, t.title, t.status, t.scheduled_at, t.assigned_technicians, t.created_by,
               t.reminder_at, t.reminder_sent, t.created_at, t.updated_at
        FROM tasks t
        LEFT JOIN notification_log n ON n.task_id = t.id
        WHERE t.reminder_at IS NOT NULL
          AND n.task_id IS NULL
          AND t.status NOT IN (?, ?)
        ORDER BY t.reminder_at ASC`,
		models.TaskStatusCompleted, models.TaskStatusCancelled,
	)
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus applies a local status move (Kanban drag-and-drop).
func (db *DB) UpdateTaskStatus(ctx context.Context, id, status string) error {
	if !models.ValidTaskStatus(status) {
		return fmt.Errorf("task status %q: %w", status, models.ErrInvalidStatus)
	}
	if err := db.guard(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return nil
}
