package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
)

// Failover switches every repository sharing it to the in-memory fallback when
// the primary store errors, and probes the primary again after recoveryInterval.
// Writes made while degraded stay in memory and are lost on restart.
type Failover struct {
	logger           *zerolog.Logger
	recoveryInterval time.Duration
	isDown           atomic.Bool
	mu               sync.Mutex
	lastCheck        time.Time
	now              func() time.Time
}

func NewFailover(recoveryInterval time.Duration, logger *zerolog.Logger) *Failover {
	if recoveryInterval <= 0 {
		recoveryInterval = models.DefaultRecoveryInterval
	}
	return &Failover{logger: logger, recoveryInterval: recoveryInterval, now: time.Now}
}

// InDegradedMode reports whether calls are currently served by the fallback.
func (f *Failover) InDegradedMode() bool {
	return f.isDown.Load()
}

// MarkDown forces degraded mode, e.g. when the primary cannot be reached at startup.
func (f *Failover) MarkDown(reason error) {
	f.markDown("startup", reason)
}

func (f *Failover) markDown(op string, err error) {
	f.mu.Lock()
	f.lastCheck = f.now()
	f.mu.Unlock()
	if f.isDown.CompareAndSwap(false, true) {
		f.logger.Error().Err(err).Str("op", op).Msg("Primary repository failed, falling back to memory; data written now will not survive a restart")
		metrics.SetDegraded(true)
	}
}

func (f *Failover) recoveryDue() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.now().Sub(f.lastCheck) < f.recoveryInterval {
		return false
	}
	f.lastCheck = f.now()
	return true
}

func (f *Failover) recovered() {
	if f.isDown.CompareAndSwap(true, false) {
		f.logger.Info().Msg("Primary repository recovered")
		metrics.SetDegraded(false)
	}
}

func failover[T any](f *Failover, op string, primary, fallback func() (T, error)) (T, error) {
	if !f.isDown.Load() {
		v, err := primary()
		if err == nil || isDomainError(err) {
			return v, err
		}
		f.markDown(op, err)
	} else if f.recoveryDue() {
		v, err := primary()
		if err == nil || isDomainError(err) {
			f.recovered()
			return v, err
		}
		f.logger.Warn().Err(err).Str("op", op).Msg("Primary repository still unavailable")
	}
	return fallback()
}

// isDomainError reports errors that come from the data, not from the store being down.
func isDomainError(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

// FailoverTaskRepository implements domain.TaskRepository over a primary and a fallback.
type FailoverTaskRepository struct {
	*Failover
	primary  domain.TaskRepository
	fallback domain.TaskRepository
}

func NewFailoverTaskRepository(f *Failover, primary, fallback domain.TaskRepository) *FailoverTaskRepository {
	return &FailoverTaskRepository{Failover: f, primary: primary, fallback: fallback}
}

func (r *FailoverTaskRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return failover(r.Failover, "GetTask",
		func() (*models.Task, error) { return r.primary.GetTask(ctx, id) },
		func() (*models.Task, error) { return r.fallback.GetTask(ctx, id) })
}

func (r *FailoverTaskRepository) ListTasks(ctx context.Context) ([]*models.Task, error) {
	return failover(r.Failover, "ListTasks",
		func() ([]*models.Task, error) { return r.primary.ListTasks(ctx) },
		func() ([]*models.Task, error) { return r.fallback.ListTasks(ctx) })
}

func (r *FailoverTaskRepository) ListWithReminder(ctx context.Context) ([]*models.Task, error) {
	return failover(r.Failover, "ListWithReminder",
		func() ([]*models.Task, error) { return r.primary.ListWithReminder(ctx) },
		func() ([]*models.Task, error) { return r.fallback.ListWithReminder(ctx) })
}

func (r *FailoverTaskRepository) UpsertTask(ctx context.Context, t *models.Task) error {
	_, err := failover(r.Failover, "UpsertTask",
		func() (struct{}, error) { return struct{}{}, r.primary.UpsertTask(ctx, t) },
		func() (struct{}, error) { return struct{}{}, r.fallback.UpsertTask(ctx, t) })
	return err
}

func (r *FailoverTaskRepository) MarkReminderSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := failover(r.Failover, "MarkReminderSent",
		func() (struct{}, error) { return struct{}{}, r.primary.MarkReminderSent(ctx, id, sentAt) },
		func() (struct{}, error) { return struct{}{}, r.fallback.MarkReminderSent(ctx, id, sentAt) })
	return err
}

// FailoverActRepository implements domain.ActRepository over a primary and a fallback.
type FailoverActRepository struct {
	*Failover
	primary  domain.ActRepository
	fallback domain.ActRepository
}

func NewFailoverActRepository(f *Failover, primary, fallback domain.ActRepository) *FailoverActRepository {
	return &FailoverActRepository{Failover: f, primary: primary, fallback: fallback}
}

func (r *FailoverActRepository) GetAct(ctx context.Context, id string) (*models.Act, error) {
	return failover(r.Failover, "GetAct",
		func() (*models.Act, error) { return r.primary.GetAct(ctx, id) },
		func() (*models.Act, error) { return r.fallback.GetAct(ctx, id) })
}

func (r *FailoverActRepository) UpsertAct(ctx context.Context, a *models.Act) error {
	_, err := failover(r.Failover, "UpsertAct",
		func() (struct{}, error) { return struct{}{}, r.primary.UpsertAct(ctx, a) },
		func() (struct{}, error) { return struct{}{}, r.fallback.UpsertAct(ctx, a) })
	return err
}

func (r *FailoverActRepository) ListRecentActs(ctx context.Context, limit int) ([]*models.Act, error) {
	return failover(r.Failover, "ListRecentActs",
		func() ([]*models.Act, error) { return r.primary.ListRecentActs(ctx, limit) },
		func() ([]*models.Act, error) { return r.fallback.ListRecentActs(ctx, limit) })
}
