package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldsync/internal/models"
)

// MemoryTaskRepository keeps tasks in process memory. Nothing survives a restart.
type MemoryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{tasks: make(map[string]*models.Task)}
}

func copyTask(t *models.Task) *models.Task {
	c := *t
	c.AssignedTechnicians = append([]string(nil), t.AssignedTechnicians...)
	if t.ReminderAt != nil {
		at := *t.ReminderAt
		c.ReminderAt = &at
	}
	return &c
}

func (r *MemoryTaskRepository) GetTask(_ context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return copyTask(t), nil
}

func (r *MemoryTaskRepository) ListTasks(_ context.Context) ([]*models.Task, error) {
	return r.list(func(*models.Task) bool { return true }, func(a, b *models.Task) bool {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}), nil
}

func (r *MemoryTaskRepository) ListWithReminder(_ context.Context) ([]*models.Task, error) {
	return r.list(func(t *models.Task) bool { return t.ReminderAt != nil }, func(a, b *models.Task) bool {
		return a.ReminderAt.Before(*b.ReminderAt)
	}), nil
}

func (r *MemoryTaskRepository) list(keep func(*models.Task) bool, less func(a, b *models.Task) bool) []*models.Task {
	r.mu.RLock()
	out := make([]*models.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if keep(t) {
			out = append(out, copyTask(t))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// UpsertTask stores a copy of t. The reminder flag is sticky while ReminderAt
// is unchanged.
func (r *MemoryTaskRepository) UpsertTask(_ context.Context, t *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := copyTask(t)
	if existing, ok := r.tasks[t.ID]; ok && sameReminder(existing.ReminderAt, t.ReminderAt) {
		stored.ReminderSent = existing.ReminderSent || t.ReminderSent
	}
	r.tasks[t.ID] = stored
	return nil
}

func sameReminder(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (r *MemoryTaskRepository) MarkReminderSent(_ context.Context, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	t.ReminderSent = true
	return nil
}

// MemoryActRepository keeps acts in process memory.
type MemoryActRepository struct {
	mu   sync.RWMutex
	acts map[string]*models.Act
}

func NewMemoryActRepository() *MemoryActRepository {
	return &MemoryActRepository{acts: make(map[string]*models.Act)}
}

func copyAct(a *models.Act) *models.Act {
	c := *a
	if a.GLPITicketID != nil {
		id := *a.GLPITicketID
		c.GLPITicketID = &id
	}
	c.Payload = append([]byte(nil), a.Payload...)
	return &c
}

func (r *MemoryActRepository) GetAct(_ context.Context, id string) (*models.Act, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.acts[id]
	if !ok {
		return nil, fmt.Errorf("act %s: %w", id, models.ErrNotFound)
	}
	return copyAct(a), nil
}

func (r *MemoryActRepository) UpsertAct(_ context.Context, a *models.Act) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := copyAct(a)
	if prev, ok := r.acts[a.ID]; ok && stored.GLPITicketID == nil {
		stored.GLPITicketID = prev.GLPITicketID
	}
	r.acts[a.ID] = stored
	return nil
}

func (r *MemoryActRepository) ListRecentActs(_ context.Context, limit int) ([]*models.Act, error) {
	r.mu.RLock()
	out := make([]*models.Act, 0, len(r.acts))
	for _, a := range r.acts {
		out = append(out, copyAct(a))
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
