// Package syncer moves acts and tasks between the local store and the remote
// record service.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
)

// ErrCycleInFlight is returned when a trigger arrives while a cycle is running.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

// LocalStore is the part of the local record store the engine drives.
type LocalStore interface {
	GetPendingSync(ctx context.Context) ([]models.Act, error)
	MarkSynced(ctx context.Context, id string, ticketID int64, pushedUpdatedAt time.Time) (bool, error)
	UpdateSyncStatus(ctx context.Context, id, status, detail string) error
	SaveRemoteActs(ctx context.Context, acts []models.Act) (int, error)
	GetTasks(ctx context.Context) ([]models.Task, error)
	UpsertTasks(ctx context.Context, tasks []models.Task) (int, error)
	PendingCount(ctx context.Context) (int, error)
}

// Remote is the remote record service as seen by the engine.
type Remote interface {
	SubmitAct(ctx context.Context, act *models.Act) (int64, error)
	ListActs(ctx context.Context, limit int) ([]models.Act, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	SyncTasks(ctx context.Context, tasks []models.Task) ([]models.Task, error)
	Health(ctx context.Context) error
}

// Report describes one push/pull cycle.
type Report struct {
	Reason      string
	Pushed      int
	Failed      int
	Requeued    int
	PushedTasks int
	PulledActs  int
	PulledTasks int
	Pending     int
	Errors      []string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Status is the non-blocking indicator shown while records wait for the server.
type Status struct {
	Pending   int
	InFlight  bool
	LastCycle time.Time
	LastError string
}

type Engine struct {
	store     LocalStore
	remote    Remote
	events    domain.EventPublisher
	pullLimit int
	logger    *zerolog.Logger
	now       func() time.Time

	running atomic.Bool

	mu     sync.Mutex
	status Status
}

func NewEngine(store LocalStore, remote Remote, pullLimit int, logger *zerolog.Logger) *Engine {
	if pullLimit <= 0 {
		pullLimit = models.DefaultPullLimit
	}
	return &Engine{
		store:     store,
		remote:    remote,
		pullLimit: pullLimit,
		logger:    logger,
		now:       time.Now,
	}
}

// UseEvents publishes sync_completed events on bus after every cycle.
func (e *Engine) UseEvents(bus domain.EventPublisher) {
	e.events = bus
}

// Status returns the latest snapshot without waiting for a running cycle.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.status
	s.InFlight = e.running.Load()
	return s
}

// RunCycle pushes pending acts and the local task list, then pulls acts and tasks.
// Remote failures are recorded in the report; only local store failures are returned.
func (e *Engine) RunCycle(ctx context.Context, reason string) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{Reason: reason}, ErrCycleInFlight
	}
	defer e.running.Store(false)

	metrics.IncSyncCycle(reason)
	report := Report{Reason: reason, StartedAt: e.now()}

	err := e.runPhases(ctx, &report)
	if err == nil {
		report.Pending, err = e.store.PendingCount(ctx)
	}
	report.FinishedAt = e.now()

	e.finish(&report, err)
	return report, err
}

func (e *Engine) runPhases(ctx context.Context, r *Report) error {
	if err := e.pushActs(ctx, r); err != nil {
		return fmt.Errorf("push acts: %w", err)
	}
	if err := e.pushTasks(ctx, r); err != nil {
		return fmt.Errorf("push tasks: %w", err)
	}
	if err := e.pullActs(ctx, r); err != nil {
		return fmt.Errorf("pull acts: %w", err)
	}
	if err := e.pullTasks(ctx, r); err != nil {
		return fmt.Errorf("pull tasks: %w", err)
	}
	return nil
}

func (e *Engine) pushActs(ctx context.Context, r *Report) error {
	pending, err := e.store.GetPendingSync(ctx)
	if err != nil {
		return err
	}

	for i := range pending {
		act := &pending[i]
		ticket, err := e.remote.SubmitAct(ctx, act)
		if err != nil {
			r.Failed++
			r.Errors = append(r.Errors, fmt.Sprintf("act %s: %v", act.ID, err))
			metrics.IncPush("error")
			e.logger.Warn().Err(err).Str("act_id", act.ID).Msg("Act push failed, kept for retry")
			if serr := e.store.UpdateSyncStatus(ctx, act.ID, models.ActStatusError, err.Error()); serr != nil {
				return serr
			}
			continue
		}

		applied, err := e.store.MarkSynced(ctx, act.ID, ticket, act.UpdatedAt)
		if err != nil {
			return err
		}
		metrics.IncPush("ok")
		if !applied {
			// edited while the push was in flight; the newer copy goes next cycle
			r.Requeued++
			continue
		}
		r.Pushed++
	}
	return nil
}

func (e *Engine) pushTasks(ctx context.Context, r *Report) error {
	local, err := e.store.GetTasks(ctx)
	if err != nil {
		return err
	}
	if len(local) == 0 {
		return nil
	}

	synced, err := e.remote.SyncTasks(ctx, local)
	if err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("tasks sync: %v", err))
		e.logger.Warn().Err(err).Int("tasks", len(local)).Msg("Task push failed")
		return nil
	}
	if _, err := e.store.UpsertTasks(ctx, synced); err != nil {
		return err
	}
	r.PushedTasks = len(local)
	return nil
}

func (e *Engine) pullActs(ctx context.Context, r *Report) error {
	acts, err := e.remote.ListActs(ctx, e.pullLimit)
	if err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("pull acts: %v", err))
		e.logger.Warn().Err(err).Msg("Act pull failed")
		return nil
	}
	n, err := e.store.SaveRemoteActs(ctx, acts)
	if err != nil {
		return err
	}
	r.PulledActs = n
	metrics.AddPulled("acts", n)
	return nil
}

func (e *Engine) pullTasks(ctx context.Context, r *Report) error {
	tasks, err := e.remote.ListTasks(ctx)
	if err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("pull tasks: %v", err))
		e.logger.Warn().Err(err).Msg("Task pull failed")
		return nil
	}
	n, err := e.store.UpsertTasks(ctx, tasks)
	if err != nil {
		return err
	}
	r.PulledTasks = n
	metrics.AddPulled("tasks", n)
	return nil
}

func (e *Engine) finish(r *Report, err error) {
	lastErr := strings.Join(r.Errors, "; ")
	if err != nil {
		lastErr = err.Error()
	}

	e.mu.Lock()
	e.status.LastCycle = r.FinishedAt
	e.status.LastError = lastErr
	if err == nil {
		e.status.Pending = r.Pending
	}
	e.mu.Unlock()

	event := e.logger.Info()
	if err != nil {
		event = e.logger.Error().Err(err)
	} else if len(r.Errors) > 0 {
		event = e.logger.Warn()
	}
	event.Str("reason", r.Reason).
		Int("pushed", r.Pushed).
		Int("failed", r.Failed).
		Int("pulled_acts", r.PulledActs).
		Int("pulled_tasks", r.PulledTasks).
		Int("pending", r.Pending).
		Dur("took", r.FinishedAt.Sub(r.StartedAt)).
		Msg("Sync cycle finished")

	if e.events != nil {
		_ = e.events.PublishJSON(events.EventSyncCompleted, events.SyncCompletedPayload{
			Reason:      r.Reason,
			Pushed:      r.Pushed,
			Failed:      r.Failed,
			PulledActs:  r.PulledActs,
			PulledTasks: r.PulledTasks,
			Pending:     r.Pending,
			Error:       lastErr,
			FinishedAt:  r.FinishedAt,
		})
	}
}
