package domain

import (
	"context"
	"time"

	"fieldsync/internal/models"
)

// TaskRepository is the server's task collection.
type TaskRepository interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context) ([]*models.Task, error)
	ListWithReminder(ctx context.Context) ([]*models.Task, error)
	UpsertTask(ctx context.Context, task *models.Task) error
	MarkReminderSent(ctx context.Context, id string, sentAt time.Time) error
}

// ActRepository is the server's act collection.
type ActRepository interface {
	GetAct(ctx context.Context, id string) (*models.Act, error)
	UpsertAct(ctx context.Context, act *models.Act) error
	ListRecentActs(ctx context.Context, limit int) ([]*models.Act, error)
}

// Directory lists technicians eligible to receive reminders.
type Directory interface {
	EligibleTechnicians(ctx context.Context) ([]models.Technician, error)
}

// Message is a reminder payload handed to a transport.
type Message struct {
	Title string
	Body  string
	Meta  map[string]string
}

// Transport delivers a message to a contact address. A nil error means delivered.
type Transport interface {
	Name() string
	Send(ctx context.Context, address string, msg Message) error
}

// Notification is a user-visible local notice.
type Notification struct {
	TaskID string
	Title  string
	Body   string
}

// Notifier emits local OS notifications on the device.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Ticketer opens a ticket on the external ticketing platform for an act.
type Ticketer interface {
	OpenTicket(ctx context.Context, act *models.Act) (int64, error)
}

// ReminderClaimer guards reminder dispatch across server replicas.
type ReminderClaimer interface {
	Claim(ctx context.Context, taskID string, ttl time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
