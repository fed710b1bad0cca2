package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fieldsync/internal/config"
	"fieldsync/internal/database"
	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/reminder"
	"fieldsync/internal/remote"
	"fieldsync/internal/syncer"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	if err := cfg.ValidateAgent(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "store"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		go metrics.Serve(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	backup := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, logging.Component(logger, "backup"))
	go backup.Start(ctx)

	bus := events.NewEventBus()
	subscribeStatus(bus, logger)

	client := remote.NewClient(cfg.Sync)

	engine := syncer.NewEngine(db, client, cfg.Sync.PullLimit, logging.Component(logger, "sync"))
	engine.UseEvents(bus)
	monitor := syncer.NewMonitor(client, cfg.Sync.ProbeInterval, cfg.Sync.ProbeMaxDelay, logging.Component(logger, "connectivity"))
	runner := syncer.NewRunner(engine, monitor, cfg.Sync.Interval, logging.Component(logger, "sync"))
	go runner.Run(ctx)

	scanner := reminder.NewLocalScanner(db, nil, cfg.Sync.User, cfg.Reminders, logging.Component(logger, "local-reminders"))
	scanner.UseEvents(bus)
	go scanner.Run(ctx)

	logger.Info().Str("user", cfg.Sync.User).Str("remote", cfg.Sync.BaseURL).Msg("Agent started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	st := engine.Status()
	logger.Info().Int("pending", st.Pending).Time("last_cycle", st.LastCycle).Msg("Agent stopped")
	return nil
}

// subscribeStatus renders the non-blocking "pending sync" indicator.
func subscribeStatus(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.EventSyncCompleted, func(ev *events.Event) error {
		var p events.SyncCompletedPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if p.Pending > 0 {
			logger.Warn().Int("pending", p.Pending).Str("last_error", p.Error).Msg("Pending sync")
			return nil
		}
		logger.Info().Str("reason", p.Reason).Msg("All records synced")
		return nil
	})
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/agent.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "agent-main"), closer, nil
}
