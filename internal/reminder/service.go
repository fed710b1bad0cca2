package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/directory"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DegradedReporter is implemented by repositories that can fall back to memory.
type DegradedReporter interface {
	InDegradedMode() bool
}

// Service dispatches due task reminders to assigned technicians.
type Service struct {
	repo      domain.TaskRepository
	dir       domain.Directory
	transport domain.Transport
	claimer   domain.ReminderClaimer
	events    domain.EventPublisher
	degraded  DegradedReporter
	limiter   *rate.Limiter
	interval  time.Duration
	timeout   time.Duration
	claimTTL  time.Duration
	logger    *zerolog.Logger
	now       func() time.Time

	running atomic.Bool
}

// ScanResult summarizes one server scan.
type ScanResult struct {
	Due       int
	Sent      int
	Delivered int
	Failed    int
}

func NewService(repo domain.TaskRepository, dir domain.Directory, transport domain.Transport, cfg config.RemindersConfig, rps float64, logger *zerolog.Logger) *Service {
	if cfg.ServerInterval <= 0 {
		cfg.ServerInterval = models.DefaultServerReminderInterval
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = models.DefaultHTTPTimeout
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	s := &Service{
		repo:      repo,
		dir:       dir,
		transport: transport,
		limiter:   rate.NewLimiter(limit, 1),
		interval:  cfg.ServerInterval,
		timeout:   cfg.DispatchTimeout,
		claimTTL:  cfg.Claim.TTL,
		logger:    logger,
		now:       time.Now,
	}
	if d, ok := repo.(DegradedReporter); ok {
		s.degraded = d
	}
	return s
}

// UseClaimer makes every dispatch take a claim first; used with several replicas.
func (s *Service) UseClaimer(c domain.ReminderClaimer) {
	s.claimer = c
}

// UseDegradedReporter sets the source of the degraded-mode warning when the
// repository itself cannot report it.
func (s *Service) UseDegradedReporter(d DegradedReporter) {
	s.degraded = d
}

func (s *Service) UseEvents(bus domain.EventPublisher) {
	s.events = bus
}

// Run scans once immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Str("transport", s.transport.Name()).Msg("Reminder service started")
	defer s.logger.Info().Msg("Reminder service stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if res, err := s.Scan(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Reminder scan failed")
		} else if res.Due > 0 {
			s.logger.Info().Int("due", res.Due).Int("sent", res.Sent).Int("delivered", res.Delivered).Int("failed", res.Failed).Msg("Reminder scan finished")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scan dispatches every due reminder. An overlapping call returns an empty result.
func (s *Service) Scan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("Reminder scan already running, skipped")
		return res, nil
	}
	defer s.running.Store(false)

	tasks, err := s.repo.ListWithReminder(ctx)
	if err != nil {
		return res, fmt.Errorf("list reminders: %w", err)
	}
	if s.degraded != nil && s.degraded.InDegradedMode() {
		s.logger.Warn().Msg("Scanning reminders from the in-memory fallback store")
	}

	now := s.now()
	due := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ReminderDue(now) {
			due = append(due, t)
		}
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}

	techs, err := s.dir.EligibleTechnicians(ctx)
	if err != nil {
		return res, fmt.Errorf("directory: %w", err)
	}
	idx := directory.NewIndex(techs)

	for _, task := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !s.claim(ctx, task.ID) {
			continue
		}

		delivered, failed, err := s.dispatch(ctx, idx, task)
		res.Delivered += delivered
		res.Failed += failed
		if err != nil {
			if delivered+failed == 0 {
				s.release(ctx, task.ID)
				return res, err
			}
			// some recipients already got it; never send again
			if markErr := s.markSentDetached(ctx, task.ID, now); markErr != nil {
				s.logger.Error().Err(markErr).Str("task_id", task.ID).Msg("Mark reminder sent failed")
			} else {
				res.Sent++
			}
			return res, err
		}

		if err := s.repo.MarkReminderSent(ctx, task.ID, now); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("Mark reminder sent failed")
			continue
		}
		res.Sent++

		if s.events != nil {
			_ = s.events.PublishJSON(events.EventReminderSent, events.ReminderPayload{
				TaskID:     task.ID,
				Title:      task.Title,
				ReminderAt: *task.ReminderAt,
				Recipients: len(task.AssignedTechnicians),
				Delivered:  delivered,
			})
		}
	}
	return res, nil
}

func (s *Service) claim(ctx context.Context, taskID string) bool {
	if s.claimer == nil {
		return true
	}
	ok, err := s.claimer.Claim(ctx, taskID, s.claimTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("Reminder claim failed, left for next scan")
		return false
	}
	return ok
}

func (s *Service) markSentDetached(ctx context.Context, taskID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	return s.repo.MarkReminderSent(ctx, taskID, at)
}

// release hands an interrupted claim back so the next scan can take it.
func (s *Service) release(ctx context.Context, taskID string) {
	r, ok := s.claimer.(interface {
		Release(ctx context.Context, taskID string) error
	})
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := r.Release(ctx, taskID); err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("Reminder claim release failed")
	}
}

// dispatch sends the reminder to every resolvable assignee once per address.
// Only throttling and cancellation errors are returned; delivery failures are counted.
// delivered+failed is the number of addresses a send was attempted for.
func (s *Service) dispatch(ctx context.Context, idx directory.Index, task *models.Task) (delivered, failed int, err error) {
	msg := buildMessage(task)
	seen := make(map[string]struct{}, len(task.AssignedTechnicians))

	for _, name := range task.AssignedTechnicians {
		addr, ok := idx.ResolveContact(name)
		if !ok {
			s.logger.Warn().Str("task_id", task.ID).Str("assignee", name).Msg("No contact for assignee")
			metrics.IncDispatch("unresolved")
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		if err := s.limiter.Wait(ctx); err != nil {
			return delivered, failed, err
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.transport.Send(sendCtx, addr, msg)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				metrics.IncDispatch("error")
				return delivered, failed + 1, ctx.Err()
			}
			failed++
			metrics.IncDispatch("error")
			s.logger.Error().Err(err).Str("task_id", task.ID).Str("assignee", name).Str("transport", s.transport.Name()).Msg("Reminder delivery failed")
			continue
		}
		delivered++
		metrics.IncDispatch("ok")
	}
	return delivered, failed, nil
}

func buildMessage(task *models.Task) domain.Message {
	return domain.Message{
		Title: "Reminder: " + task.Title,
		Body:  "Scheduled for " + task.ScheduledAt.UTC().Format("2006-01-02 15:04 MST"),
		Meta: map[string]string{
			"taskId": task.ID,
			"status": task.Status,
		},
	}
}
