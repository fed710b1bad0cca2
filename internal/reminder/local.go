// Package reminder runs the two reminder scanners: the device-local one that
// shows OS notifications and the server one that dispatches to technicians.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
)

// LocalStore is the slice of the local record store the scanner reads and writes.
type LocalStore interface {
	ReminderCandidates(ctx context.Context) ([]models.Task, error)
	LogNotification(ctx context.Context, taskID string, sentAt time.Time) (bool, error)
	ForgetNotification(ctx context.Context, taskID string) error
}

// LogNotifier is the default Notifier; it writes the notice to the log.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, note domain.Notification) error {
	n.logger.Info().Str("task_id", note.TaskID).Str("title", note.Title).Msg(note.Body)
	return nil
}

// LocalScanner fires on-device reminders for tasks that involve the current user.
type LocalScanner struct {
	store    LocalStore
	notifier domain.Notifier
	events   domain.EventPublisher
	user     string
	interval time.Duration
	window   time.Duration
	cooldown time.Duration
	logger   *zerolog.Logger
	now      func() time.Time

	running atomic.Bool

	mu         sync.Mutex
	processing map[string]time.Time
}

func NewLocalScanner(store LocalStore, notifier domain.Notifier, user string, cfg config.RemindersConfig, logger *zerolog.Logger) *LocalScanner {
	if cfg.ClientInterval <= 0 {
		cfg.ClientInterval = models.DefaultClientReminderInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = models.DefaultReminderWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = models.DefaultReminderCooldown
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &LocalScanner{
		store:      store,
		notifier:   notifier,
		user:       user,
		interval:   cfg.ClientInterval,
		window:     cfg.Window,
		cooldown:   cfg.Cooldown,
		logger:     logger,
		now:        time.Now,
		processing: make(map[string]time.Time),
	}
}

// UseEvents publishes reminder_fired events on bus.
func (s *LocalScanner) UseEvents(bus domain.EventPublisher) {
	s.events = bus
}

// Run scans once immediately and then on every tick until ctx is done.
func (s *LocalScanner) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Dur("window", s.window).Msg("Local reminder scanner started")
	defer s.logger.Info().Msg("Local reminder scanner stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Local reminder scan failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scan fires every due reminder once and returns how many were emitted.
// A call made while another scan is running returns immediately.
func (s *LocalScanner) Scan(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.running.Store(false)

	tasks, err := s.store.ReminderCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("reminder candidates: %w", err)
	}

	now := s.now()
	s.expire(now)
	fired := 0
	for i := range tasks {
		task := &tasks[i]
		if !task.InvolvesUser(s.user) || !task.ReminderEligible() || !task.WithinWindow(now, s.window) {
			continue
		}
		if s.inProcessing(task.ID, now) {
			continue
		}
		if s.fire(ctx, task, now) {
			fired++
		}
	}
	return fired, nil
}

func (s *LocalScanner) fire(ctx context.Context, task *models.Task, now time.Time) bool {
	inserted, err := s.store.LogNotification(ctx, task.ID, now)
	if err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Notification log write failed, will retry")
		return false
	}
	if !inserted {
		return false
	}
	s.hold(task.ID, now)

	note := domain.Notification{
		TaskID: task.ID,
		Title:  "Reminder: " + task.Title,
		Body:   "Scheduled for " + task.ScheduledAt.Local().Format("02 Jan 15:04"),
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("Notification failed, reminder re-armed")
		if ferr := s.store.ForgetNotification(ctx, task.ID); ferr != nil {
			s.logger.Error().Err(ferr).Str("task_id", task.ID).Msg("Forget notification failed")
		}
		return false
	}

	metrics.IncReminderFired("client")
	if s.events != nil {
		_ = s.events.PublishJSON(events.EventReminderFired, events.ReminderPayload{
			TaskID:     task.ID,
			Title:      task.Title,
			ReminderAt: *task.ReminderAt,
		})
	}
	s.logger.Debug().Str("task_id", task.ID).Msg("Reminder fired")
	return true
}

func (s *LocalScanner) inProcessing(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.processing[id]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(s.processing, id)
	return false
}

// expire drops cooldown entries that have run out.
func (s *LocalScanner) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, until := range s.processing {
		if !now.Before(until) {
			delete(s.processing, id)
		}
	}
}

func (s *LocalScanner) hold(id string, now time.Time) {
	s.mu.Lock()
	s.processing[id] = now.Add(s.cooldown)
	s.mu.Unlock()
}
