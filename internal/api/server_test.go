package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/models"
	"fieldsync/internal/repository"
	"fieldsync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDegraded bool

func (s stubDegraded) InDegradedMode() bool { return bool(s) }

type testEnv struct {
	handler http.Handler
	tokens  *TokenManager
	tasks   *repository.MemoryTaskRepository
}

func newTestEnv(t *testing.T, cfg config.ServerConfig) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	acts := service.NewActService(repository.NewMemoryActRepository(), service.NewSequenceTicketer(100), &logger)
	taskRepo := repository.NewMemoryTaskRepository()
	tasks := service.NewTaskService(taskRepo, &logger)

	srv := NewHTTPServer(cfg, acts, tasks, stubDegraded(true), &logger)
	return &testEnv{handler: srv.Handler(), tokens: NewTokenManager(cfg.Auth.JWTSecret), tasks: taskRepo}
}

func authConfig() config.ServerConfig {
	return config.ServerConfig{
		Port: 8080,
		Auth: config.AuthConfig{Enabled: true, JWTSecret: testSecret, AdminRole: "admin"},
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := e.tokens.Issue(user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, authConfig())

	w := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["degraded"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, authConfig())

	w := env.do(t, http.MethodGet, "/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var msg models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.NotEmpty(t, msg.Message)

	w = env.do(t, http.MethodGet, "/tasks", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := NewTokenManager("other-secret")
	forged, err := other.Issue("ana", "admin", time.Hour)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/tasks", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := env.tokens.Issue("ana", "admin", -time.Minute)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/tasks", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitActIdempotent(t *testing.T) {
	env := newTestEnv(t, authConfig())
	tok := env.token(t, "ana", "tech")

	act := models.Act{ID: "A1", ClientName: "ACME", Type: models.ActPreventive, Status: models.ActStatusPendingSync, UpdatedAt: time.Now().UTC()}

	var first, second models.SubmitResponse
	w := env.do(t, http.MethodPost, "/sync/maintenance", tok, act)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = env.do(t, http.MethodPost, "/sync/maintenance", tok, act)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.GLPIID, second.GLPIID)

	w = env.do(t, http.MethodGet, "/sync/maintenance?limit=10", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var acts []models.Act
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &acts))
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActStatusSynced, acts[0].Status)

	w = env.do(t, http.MethodGet, "/sync/maintenance?limit=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/sync/maintenance", tok, models.Act{ID: "A2", Type: "BAD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTasksFlow(t *testing.T) {
	env := newTestEnv(t, authConfig())
	admin := env.token(t, "boss", "admin")
	tech := env.token(t, "Ana Ruiz", "tech")

	w := env.do(t, http.MethodPost, "/tasks", tech, models.Task{Title: "x", ScheduledAt: time.Now()})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/tasks", admin, models.Task{
		Title: "Install", ScheduledAt: time.Now().Add(time.Hour), AssignedTechnicians: []string{"ana ruiz"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "boss", created.CreatedBy)

	w = env.do(t, http.MethodPost, "/tasks", admin, models.Task{Title: "Other", ScheduledAt: time.Now(), AssignedTechnicians: []string{"Luis"}})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/tasks", tech, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var visible []models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &visible))
	require.Len(t, visible, 1)
	assert.Equal(t, created.ID, visible[0].ID)

	status := models.TaskStatusInProgress
	w = env.do(t, http.MethodPatch, "/tasks/"+created.ID, tech, models.TaskPatch{Status: &status})
	require.Equal(t, http.StatusOK, w.Code)
	var patched models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &patched))
	assert.Equal(t, models.TaskStatusInProgress, patched.Status)

	w = env.do(t, http.MethodPatch, "/tasks/missing", tech, models.TaskPatch{Status: &status})
	assert.Equal(t, http.StatusNotFound, w.Code)

	bad := "DONE"
	w = env.do(t, http.MethodPatch, "/tasks/"+created.ID, tech, models.TaskPatch{Status: &bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// a device copy older than the patch does not undo it
	stale := visible[0]
	stale.Title = "Install (offline)"
	stale.UpdatedAt = patched.UpdatedAt.Add(-time.Minute)
	w = env.do(t, http.MethodPost, "/tasks/sync", tech, []models.Task{stale})
	require.Equal(t, http.StatusOK, w.Code)
	var synced []models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &synced))
	require.Len(t, synced, 1)
	assert.Equal(t, "Install", synced[0].Title)
	assert.Equal(t, models.TaskStatusInProgress, synced[0].Status)

	stored, err := env.tasks.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Install", stored.Title)
	assert.Equal(t, models.TaskStatusInProgress, stored.Status)

	w = env.do(t, http.MethodGet, "/tasks", tech, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &visible))
	require.Len(t, visible, 1)

	fresh := visible[0]
	fresh.Title = "Install v2"
	fresh.UpdatedAt = fresh.UpdatedAt.Add(time.Second)
	w = env.do(t, http.MethodPost, "/tasks/sync", tech, []models.Task{fresh, {Title: "device task", Status: models.TaskStatusScheduled, ScheduledAt: time.Now()}})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &synced))
	require.Len(t, synced, 2)
	assert.NotEmpty(t, synced[1].ID)

	stored, err = env.tasks.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Install v2", stored.Title)
	assert.Equal(t, models.TaskStatusInProgress, stored.Status)
}

func TestAuthDisabled(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{Auth: config.AuthConfig{AdminRole: "admin"}})

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"title":"t","scheduledAt":"2026-05-01T10:00:00Z"}`))
	req.Header.Set("X-User", "dispatcher")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "dispatcher", created.CreatedBy)
}

func TestRateLimit(t *testing.T) {
	cfg := authConfig()
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	env := newTestEnv(t, cfg)
	tok := env.token(t, "ana", "tech")

	w := env.do(t, http.MethodGet, "/tasks", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/tasks", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// limits are per caller
	w = env.do(t, http.MethodGet, "/tasks", env.token(t, "luis", "tech"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
