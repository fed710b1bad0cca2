package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ActService is the act side of the remote record service.
type ActService interface {
	Submit(ctx context.Context, act *models.Act) (int64, error)
	Recent(ctx context.Context, limit int) ([]*models.Act, error)
}

// TaskService is the task side of the remote record service.
type TaskService interface {
	Create(ctx context.Context, task *models.Task, creator string) (*models.Task, error)
	Sync(ctx context.Context, tasks []models.Task, caller string) ([]models.Task, error)
	Patch(ctx context.Context, id string, patch *models.TaskPatch) (*models.Task, error)
	ListVisible(ctx context.Context, user string, admin bool) ([]*models.Task, error)
}

// DegradedReporter tells /health whether persistence runs on the fallback.
type DegradedReporter interface {
	InDegradedMode() bool
}

// HTTPServer exposes the remote record service over HTTP/JSON.
type HTTPServer struct {
	cfg      config.ServerConfig
	acts     ActService
	tasks    TaskService
	degraded DegradedReporter
	logger   *zerolog.Logger
	engine   *gin.Engine
	server   *http.Server
}

func NewHTTPServer(cfg config.ServerConfig, acts ActService, tasks TaskService, degraded DegradedReporter, logger *zerolog.Logger) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)

	s := &HTTPServer{
		cfg:      cfg,
		acts:     acts,
		tasks:    tasks,
		degraded: degraded,
		logger:   logger,
	}
	s.engine = s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.logger))

	r.GET("/health", s.handleHealth)

	limiter := newRateLimiter(s.cfg.RateLimit)
	authed := r.Group("/", jwtAuth(s.cfg.Auth, NewTokenManager(s.cfg.Auth.JWTSecret)), limiter.middleware())
	{
		authed.POST("/sync/maintenance", s.handleSubmitAct)
		authed.GET("/sync/maintenance", s.handleListActs)

		authed.GET("/tasks", s.handleListTasks)
		authed.POST("/tasks", s.handleCreateTask)
		authed.POST("/tasks/sync", s.handleSyncTasks)
		authed.PATCH("/tasks/:id", s.handlePatchTask)
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
