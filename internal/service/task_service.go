package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type TaskService struct {
	repo   domain.TaskRepository
	logger *zerolog.Logger
	now    func() time.Time
	// read-merge-write on a task id must not interleave with another writer
	mu sync.Mutex
}

func NewTaskService(repo domain.TaskRepository, logger *zerolog.Logger) *TaskService {
	return &TaskService{repo: repo, logger: logger, now: time.Now}
}

func validateTask(t *models.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title is required: %w", models.ErrInvalidRecord)
	}
	if !models.ValidTaskStatus(t.Status) {
		return fmt.Errorf("task status %q: %w", t.Status, models.ErrInvalidStatus)
	}
	if t.ScheduledAt.IsZero() {
		return fmt.Errorf("task scheduledAt is required: %w", models.ErrInvalidRecord)
	}
	return nil
}

// Create stores a new task authored by creator.
func (s *TaskService) Create(ctx context.Context, task *models.Task, creator string) (*models.Task, error) {
	t := *task
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusScheduled
		if len(t.AssignedTechnicians) > 0 {
			t.Status = models.TaskStatusAssigned
		}
	}
	if t.CreatedBy == "" {
		t.CreatedBy = creator
	}
	t.AssignedTechnicians = models.NormalizeAssignees(t.AssignedTechnicians)
	t.ReminderSent = false
	now := s.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := validateTask(&t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.UpsertTask(ctx, &t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("task_id", t.ID).Str("created_by", t.CreatedBy).Msg("Task created")
	return &t, nil
}

// Sync applies a device's full task list. The newer copy wins on updated_at and
// the client wins ties; ids are assigned to tasks the server has never seen.
func (s *TaskService) Sync(ctx context.Context, tasks []models.Task, caller string) ([]models.Task, error) {
	incoming := make([]models.Task, len(tasks))
	now := s.now().UTC()
	for i := range tasks {
		t := tasks[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedBy == "" {
			t.CreatedBy = caller
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
		t.AssignedTechnicians = models.NormalizeAssignees(t.AssignedTechnicians)
		if err := validateTask(&t); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		incoming[i] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Task, 0, len(incoming))
	for i := range incoming {
		existing, err := s.repo.GetTask(ctx, incoming[i].ID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		if existing != nil && existing.UpdatedAt.After(incoming[i].UpdatedAt) {
			// the server copy was changed after the device last saw it
			out = append(out, *existing)
			continue
		}
		merged := models.MergeTask(existing, &incoming[i])
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = now
		}
		if err := s.repo.UpsertTask(ctx, merged); err != nil {
			return nil, err
		}
		out = append(out, *merged)
	}

	s.logger.Debug().Int("count", len(out)).Str("caller", caller).Msg("Tasks synced")
	return out, nil
}

// Patch applies a partial update, e.g. a Kanban status move.
func (s *TaskService) Patch(ctx context.Context, id string, patch *models.TaskPatch) (*models.Task, error) {
	if patch.Status != nil && !models.ValidTaskStatus(*patch.Status) {
		return nil, fmt.Errorf("task status %q: %w", *patch.Status, models.ErrInvalidStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(t)
	t.UpdatedAt = s.now().UTC()
	if err := validateTask(t); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListVisible returns every task for admins, otherwise the tasks user created
// or is assigned to.
func (s *TaskService) ListVisible(ctx context.Context, user string, admin bool) ([]*models.Task, error) {
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	if admin {
		return tasks, nil
	}
	visible := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.InvolvesUser(user) {
			visible = append(visible, t)
		}
	}
	return visible, nil
}
