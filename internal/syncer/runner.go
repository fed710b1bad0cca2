package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Trigger reasons.
const (
	ReasonSession  = "session"
	ReasonPeriodic = "periodic"
	ReasonOnline   = "online"
	ReasonManual   = "manual"
)

// Monitor probes the remote health endpoint and reports offline to online transitions.
type Monitor struct {
	remote   Remote
	interval time.Duration
	policy   RetryPolicy
	logger   *zerolog.Logger

	online   atomic.Bool
	failures int
}

func NewMonitor(remote Remote, interval, maxDelay time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Monitor{
		remote:   remote,
		interval: interval,
		policy:   RetryPolicy{InitialDelay: interval, MaxDelay: maxDelay, BackoffFactor: 2},
		logger:   logger,
	}
	m.online.Store(true)
	return m
}

// Online reports the last probe result.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Check runs one probe. It returns true only when the service came back after
// being unreachable, and the delay to wait before the next probe.
func (m *Monitor) Check(ctx context.Context) (cameOnline bool, next time.Duration) {
	if err := m.remote.Health(ctx); err != nil {
		m.failures++
		if m.online.CompareAndSwap(true, false) {
			m.logger.Warn().Err(err).Msg("Remote service unreachable, working offline")
		}
		return false, m.policy.NextDelay(m.failures)
	}

	m.failures = 0
	if m.online.CompareAndSwap(false, true) {
		m.logger.Info().Msg("Remote service reachable again")
		return true, m.interval
	}
	return false, m.interval
}

// Run probes until ctx is done and calls onOnline on each offline to online transition.
func (m *Monitor) Run(ctx context.Context, onOnline func()) {
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		cameOnline, next := m.Check(ctx)
		if cameOnline {
			onOnline()
		}
		timer.Reset(next)
	}
}

// Runner owns the cycle triggers: session start, an optional timer and connectivity.
type Runner struct {
	engine   *Engine
	monitor  *Monitor
	interval time.Duration
	logger   *zerolog.Logger
}

func NewRunner(engine *Engine, monitor *Monitor, interval time.Duration, logger *zerolog.Logger) *Runner {
	return &Runner{engine: engine, monitor: monitor, interval: interval, logger: logger}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.Trigger(ctx, ReasonSession)

	if r.monitor != nil {
		go r.monitor.Run(ctx, func() { r.Trigger(ctx, ReasonOnline) })
	}

	if r.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.monitor != nil && !r.monitor.Online() {
				continue
			}
			r.Trigger(ctx, ReasonPeriodic)
		}
	}
}

// Trigger runs one cycle; a trigger that overlaps a running cycle is dropped.
func (r *Runner) Trigger(ctx context.Context, reason string) {
	_, err := r.engine.RunCycle(ctx, reason)
	switch {
	case errors.Is(err, ErrCycleInFlight):
		r.logger.Debug().Str("reason", reason).Msg("Sync trigger coalesced into running cycle")
	case err != nil:
		r.logger.Error().Err(err).Str("reason", reason).Msg("Sync cycle aborted by local store failure")
	}
}
