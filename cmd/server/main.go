package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/directory"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/migrate"
	"fieldsync/internal/notify"
	"fieldsync/internal/reminder"
	"fieldsync/internal/repository"
	"fieldsync/internal/service"

	"github.com/redis/go-redis/v9"
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
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		go metrics.Serve(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	failover := repository.NewFailover(cfg.Database.RecoveryInterval, logging.Component(logger, "failover"))
	tasks, acts, pg, err := initRepositories(ctx, cfg, failover, logger)
	if err != nil {
		return err
	}
	if pg != nil {
		defer pg.Close()
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	dir := initDirectory(cfg, redisClient, logger)

	transport, err := notify.New(ctx, cfg.Notifications, logging.Component(logger, "notify"))
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	bus.Subscribe(events.EventReminderSent, func(ev *events.Event) error {
		var p events.ReminderPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		logger.Info().Str("task_id", p.TaskID).Int("recipients", p.Recipients).Int("delivered", p.Delivered).Msg("Reminder sent")
		return nil
	})

	reminders := reminder.NewService(tasks, dir, transport, cfg.Reminders, cfg.Notifications.RPS, logging.Component(logger, "reminders"))
	reminders.UseDegradedReporter(failover)
	reminders.UseEvents(bus)
	if cfg.Reminders.Claim.Enabled && redisClient != nil {
		reminders.UseClaimer(repository.NewRedisClaimer(redisClient, claimOwner()))
	}
	go reminders.Run(ctx)

	actService := service.NewActService(acts, service.NewSequenceTicketer(cfg.Server.Ticketing.Seed), logging.Component(logger, "acts"))
	taskService := service.NewTaskService(tasks, logging.Component(logger, "tasks"))
	httpServer := api.NewHTTPServer(cfg.Server, actService, taskService, failover, logging.Component(logger, "http"))

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	logger.Info().Int("port", cfg.Server.Port).Str("transport", transport.Name()).Msg("Server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("Server stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/server.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "server-main"), closer, nil
}

// initRepositories wires Postgres behind the in-memory fallback. With no DSN
// configured the server runs on memory alone and reports degraded mode.
func initRepositories(ctx context.Context, cfg *config.Config, failover *repository.Failover, logger *zerolog.Logger) (domain.TaskRepository, domain.ActRepository, *repository.PostgresDB, error) {
	memTasks := repository.NewMemoryTaskRepository()
	memActs := repository.NewMemoryActRepository()

	if cfg.Database.Postgres.DSN == "" {
		failover.MarkDown(errors.New("database.postgres.dsn is not set"))
		return memTasks, memActs, nil, nil
	}

	pg, err := repository.NewPostgresDB(ctx, cfg.Database.Postgres)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := pg.Ping(ctx); err != nil {
		failover.MarkDown(err)
	} else {
		logger.Info().Msg("postgres connected")
		if cfg.Database.Postgres.Migrate {
			if err := migrate.Up(ctx, cfg.Database.Postgres.DSN); err != nil {
				pg.Close()
				return nil, nil, nil, err
			}
			logger.Info().Msg("migrations applied")
		}
	}

	tasks := repository.NewFailoverTaskRepository(failover, repository.NewPostgresTaskRepository(pg), memTasks)
	acts := repository.NewFailoverActRepository(failover, repository.NewPostgresActRepository(pg), memActs)
	return tasks, acts, pg, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initDirectory(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.Directory {
	if cfg.Directory.Source == "http" {
		d := directory.NewHTTPDirectory(cfg.Directory)
		if redisClient != nil && cfg.Directory.CacheTTL > 0 {
			d.UseRedisCache(redisClient, cfg.Directory.CacheTTL)
		}
		logger.Info().Str("url", cfg.Directory.URL).Msg("using http technician directory")
		return d
	}
	logger.Info().Str("file", cfg.Directory.File).Msg("using file technician directory")
	return directory.NewFileDirectory(cfg.Directory.File)
}

func claimOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "server"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
