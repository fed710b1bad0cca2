package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of a Postgres pool the repositories use.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresDB wraps the pool shared by the durable repositories.
type PostgresDB struct {
	Pool           PgxPool
	connectTimeout time.Duration
}

// NewPostgresDB builds the pool. Connections are opened lazily, so a database
// that is down at startup still yields a pool the failover can probe later.
func NewPostgresDB(ctx context.Context, cfg config.PostgresConfig) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &PostgresDB{Pool: pool, connectTimeout: cfg.ConnectTimeout}, nil
}

// Ping checks that the database answers within the connect timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	timeout := db.connectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() { db.Pool.Close() }

const pgTaskColumns = `id, title, status, scheduled_at, assigned_technicians, created_by, reminder_at, reminder_sent, created_at, updated_at`

// PostgresTaskRepository implements domain.TaskRepository on Postgres.
type PostgresTaskRepository struct{ db *PostgresDB }

func NewPostgresTaskRepository(db *PostgresDB) *PostgresTaskRepository {
	return &PostgresTaskRepository{db: db}
}

func scanPgTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	if err := row.Scan(
		&t.ID, &t.Title, &t.Status, &t.ScheduledAt, &t.AssignedTechnicians, &t.CreatedBy,
		&t.ReminderAt, &t.ReminderSent, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if t.AssignedTechnicians == nil {
		t.AssignedTechnicians = []string{}
	}
	return &t, nil
}

func (r *PostgresTaskRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanPgTask(r.db.Pool.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM tasks WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *PostgresTaskRepository) ListTasks(ctx context.Context) ([]*models.Task, error) {
	return r.query(ctx, `SELECT `+pgTaskColumns+` FROM tasks ORDER BY scheduled_at ASC`)
}

func (r *PostgresTaskRepository) ListWithReminder(ctx context.Context) ([]*models.Task, error) {
	return r.query(ctx, `SELECT `+pgTaskColumns+` FROM tasks WHERE reminder_at IS NOT NULL ORDER BY reminder_at ASC`)
}

func (r *PostgresTaskRepository) query(ctx context.Context, q string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTask writes t. reminder_sent stays set while reminder_at is unchanged,
// so a write racing MarkReminderSent cannot re-arm the reminder.
func (r *PostgresTaskRepository) UpsertTask(ctx context.Context, t *models.Task) error {
	const q = `
INSERT INTO tasks (` + pgTaskColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
    title=EXCLUDED.title, status=EXCLUDED.status, scheduled_at=EXCLUDED.scheduled_at,
    assigned_technicians=EXCLUDED.assigned_technicians, created_by=EXCLUDED.created_by,
    reminder_sent=CASE WHEN tasks.reminder_at IS NOT DISTINCT FROM EXCLUDED.reminder_at
        THEN tasks.reminder_sent OR EXCLUDED.reminder_sent
        ELSE EXCLUDED.reminder_sent END,
    reminder_at=EXCLUDED.reminder_at, updated_at=EXCLUDED.updated_at`
	assignees := t.AssignedTechnicians
	if assignees == nil {
		assignees = []string{}
	}
	_, err := r.db.Pool.Exec(ctx, q,
		t.ID, t.Title, t.Status, t.ScheduledAt, assignees, t.CreatedBy,
		t.ReminderAt, t.ReminderSent, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// MarkReminderSent sets the terminal reminder flag. updated_at is left alone so
// the flag does not win last-write comparisons against user edits.
func (r *PostgresTaskRepository) MarkReminderSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE tasks SET reminder_sent=true, reminder_sent_at=$2 WHERE id=$1`, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return nil
}

const pgActColumns = `id, glpi_ticket_id, client_name, type, status, payload, created_at, updated_at`

// PostgresActRepository implements domain.ActRepository on Postgres.
type PostgresActRepository struct{ db *PostgresDB }

func NewPostgresActRepository(db *PostgresDB) *PostgresActRepository {
	return &PostgresActRepository{db: db}
}

func scanPgAct(row pgx.Row) (*models.Act, error) {
	var (
		a       models.Act
		payload []byte
	)
	if err := row.Scan(&a.ID, &a.GLPITicketID, &a.ClientName, &a.Type, &a.Status, &payload, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		a.Payload = payload
	}
	return &a, nil
}

func (r *PostgresActRepository) GetAct(ctx context.Context, id string) (*models.Act, error) {
	a, err := scanPgAct(r.db.Pool.QueryRow(ctx, `SELECT `+pgActColumns+` FROM acts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("act %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get act: %w", err)
	}
	return a, nil
}

func (r *PostgresActRepository) UpsertAct(ctx context.Context, a *models.Act) error {
	const q = `
INSERT INTO acts (` + pgActColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
    glpi_ticket_id=COALESCE(EXCLUDED.glpi_ticket_id, acts.glpi_ticket_id),
    client_name=EXCLUDED.client_name, type=EXCLUDED.type, status=EXCLUDED.status,
    payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`
	var payload []byte
	if len(a.Payload) > 0 {
		payload = a.Payload
	}
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.GLPITicketID, a.ClientName, a.Type, a.Status, payload, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert act %s: %w", a.ID, err)
	}
	return nil
}

func (r *PostgresActRepository) ListRecentActs(ctx context.Context, limit int) ([]*models.Act, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+pgActColumns+` FROM acts ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list acts: %w", err)
	}
	defer rows.Close()

	var out []*models.Act
	for rows.Next() {
		a, err := scanPgAct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan act: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
