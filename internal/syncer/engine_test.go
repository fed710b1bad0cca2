package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/database"
	"fieldsync/internal/events"
	"fieldsync/internal/models"
	"fieldsync/internal/remote"
	"fieldsync/internal/repository"
	"fieldsync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote records calls and answers from canned data.
type fakeRemote struct {
	mu        sync.Mutex
	calls     []string
	submitErr error
	nextID    int64
	acts      []models.Act
	tasks     []models.Task
	listErr   error
	healthErr error
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) SubmitAct(_ context.Context, act *models.Act) (int64, error) {
	f.record("submit:" + act.ID)
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeRemote) ListActs(_ context.Context, limit int) ([]models.Act, error) {
	f.record("listActs")
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.acts) > limit {
		return f.acts[:limit], nil
	}
	return f.acts, nil
}

func (f *fakeRemote) ListTasks(context.Context) ([]models.Task, error) {
	f.record("listTasks")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tasks, nil
}

func (f *fakeRemote) SyncTasks(_ context.Context, tasks []models.Task) ([]models.Task, error) {
	f.record("syncTasks")
	return tasks, nil
}

func (f *fakeRemote) Health(context.Context) error {
	f.record("health")
	return f.healthErr
}

func newStore(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newEngine(store LocalStore, r Remote) *Engine {
	logger := zerolog.New(io.Discard)
	return NewEngine(store, r, 10, &logger)
}

func queueAct(t *testing.T, db *database.DB, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := db.SaveDraft(ctx, &models.Act{ID: id, ClientName: "ACME", Type: models.ActCorrective, Payload: json.RawMessage(`{"notes":"valve"}`)})
	require.NoError(t, err)
	require.NoError(t, db.MarkForSync(ctx, id))
}

func TestRunCycle_PushThenPull(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	queueAct(t, db, "A1")
	require.NoError(t, db.SaveTask(ctx, &models.Task{ID: "t1", Title: "Inspect", Status: models.TaskStatusScheduled, ScheduledAt: time.Now()}))

	fr := &fakeRemote{nextID: 40}
	e := newEngine(db, fr)

	report, err := e.RunCycle(ctx, ReasonSession)
	require.NoError(t, err)
	assert.Equal(t, []string{"submit:A1", "syncTasks", "listActs", "listTasks"}, fr.calls)
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, 1, report.PushedTasks)
	assert.Zero(t, report.Pending)
	assert.Empty(t, report.Errors)

	act, err := db.GetAct(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.ActStatusSynced, act.Status)
	require.NotNil(t, act.GLPITicketID)
	assert.Equal(t, int64(41), *act.GLPITicketID)

	// a pull lacking A1 leaves it SYNCED
	_, err = e.RunCycle(ctx, ReasonPeriodic)
	require.NoError(t, err)
	act, err = db.GetAct(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.ActStatusSynced, act.Status)
}

func TestRunCycle_PushFailureStaysQueued(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	queueAct(t, db, "A1")

	fr := &fakeRemote{submitErr: &remote.StatusError{StatusCode: 502, Message: "ticketing unavailable"}, listErr: errors.New("timeout")}
	e := newEngine(db, fr)

	report, err := e.RunCycle(ctx, ReasonOnline)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Pending)
	assert.Len(t, report.Errors, 3)

	act, err := db.GetAct(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.ActStatusError, act.Status)
	assert.Contains(t, act.SyncError, "ticketing unavailable")

	st := e.Status()
	assert.Equal(t, 1, st.Pending)
	assert.False(t, st.InFlight)
	assert.NotEmpty(t, st.LastError)

	fr.submitErr, fr.listErr = nil, nil
	report, err = e.RunCycle(ctx, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	assert.Zero(t, report.Pending)
	assert.Empty(t, e.Status().LastError)
}

// editingStore edits the act between GetPendingSync and MarkSynced.
type editingStore struct {
	*database.DB
	once sync.Once
}

func (s *editingStore) MarkSynced(ctx context.Context, id string, ticket int64, pushed time.Time) (bool, error) {
	s.once.Do(func() {
		time.Sleep(time.Millisecond)
		_ = s.EditAct(ctx, &models.Act{ID: id, ClientName: "ACME", Type: models.ActCorrective, Payload: json.RawMessage(`{"notes":"edited"}`)})
	})
	return s.DB.MarkSynced(ctx, id, ticket, pushed)
}

func TestRunCycle_EditDuringPushIsRequeued(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	queueAct(t, db, "A1")

	e := newEngine(&editingStore{DB: db}, &fakeRemote{})
	report, err := e.RunCycle(ctx, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, 1, report.Pending)

	act, err := db.GetAct(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.ActStatusPendingSync, act.Status)
}

func TestRunCycle_InFlight(t *testing.T) {
	e := newEngine(newStore(t), &fakeRemote{})
	e.running.Store(true)

	_, err := e.RunCycle(context.Background(), ReasonOnline)
	assert.ErrorIs(t, err, ErrCycleInFlight)
	assert.True(t, e.Status().InFlight)
}

func TestRunCycle_ClosedStore(t *testing.T) {
	db := newStore(t)
	fr := &fakeRemote{}
	e := newEngine(db, fr)
	require.NoError(t, db.Close())

	_, err := e.RunCycle(context.Background(), ReasonManual)
	require.ErrorIs(t, err, models.ErrStoreClosed)
	assert.Empty(t, fr.calls)
}

func TestRunCycle_PublishesEvent(t *testing.T) {
	db := newStore(t)
	queueAct(t, db, "A1")

	bus := events.NewEventBus()
	var got events.SyncCompletedPayload
	bus.Subscribe(events.EventSyncCompleted, func(ev *events.Event) error {
		return ev.Decode(&got)
	})

	e := newEngine(db, &fakeRemote{})
	e.UseEvents(bus)
	_, err := e.RunCycle(context.Background(), ReasonSession)
	require.NoError(t, err)

	assert.Equal(t, ReasonSession, got.Reason)
	assert.Equal(t, 1, got.Pushed)
	assert.False(t, got.FinishedAt.IsZero())
}

func newRemoteService(t *testing.T) (*remote.Client, *repository.MemoryActRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.New(io.Discard)

	actRepo := repository.NewMemoryActRepository()
	acts := service.NewActService(actRepo, service.NewSequenceTicketer(1000), &logger)
	tasks := service.NewTaskService(repository.NewMemoryTaskRepository(), &logger)
	srv := api.NewHTTPServer(config.ServerConfig{Auth: config.AuthConfig{AdminRole: "admin"}}, acts, tasks, nil, &logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return remote.NewClient(config.SyncConfig{BaseURL: ts.URL, Timeout: 5 * time.Second}), actRepo
}

func TestEndToEnd_Idempotence(t *testing.T) {
	ctx := context.Background()
	client, actRepo := newRemoteService(t)
	db := newStore(t)
	queueAct(t, db, "A1")

	// an ambiguous failure: the server stored the act but the client never saw the reply
	pending, err := db.GetPendingSync(ctx)
	require.NoError(t, err)
	first, err := client.SubmitAct(ctx, &pending[0])
	require.NoError(t, err)

	e := newEngine(db, client)
	report, err := e.RunCycle(ctx, ReasonOnline)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)

	act, err := db.GetAct(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, act.GLPITicketID)
	assert.Equal(t, first, *act.GLPITicketID)

	remoteActs, err := actRepo.ListRecentActs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remoteActs, 1)

	_, err = e.RunCycle(ctx, ReasonPeriodic)
	require.NoError(t, err)
	local, err := db.GetPendingSync(ctx)
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestEndToEnd_Tasks(t *testing.T) {
	ctx := context.Background()
	client, _ := newRemoteService(t)
	db := newStore(t)

	at := time.Now().Add(time.Hour).UTC()
	require.NoError(t, db.SaveTask(ctx, &models.Task{
		ID:                  "t1",
		Title:               "Replace filter",
		Status:              models.TaskStatusAssigned,
		ScheduledAt:         at,
		AssignedTechnicians: []string{"Ana Lopez"},
		CreatedBy:           "ana lopez",
		ReminderAt:          &at,
	}))

	e := newEngine(db, client)
	_, err := e.RunCycle(ctx, ReasonSession)
	require.NoError(t, err)

	remoteTasks, err := client.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, remoteTasks, 1)
	assert.Equal(t, "Replace filter", remoteTasks[0].Title)

	status := models.TaskStatusInProgress
	_, err = client.PatchTask(ctx, "t1", &models.TaskPatch{Status: &status})
	require.NoError(t, err)

	report, err := e.RunCycle(ctx, ReasonPeriodic)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)

	local, err := db.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, local.Status)
}
