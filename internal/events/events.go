package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventSyncCompleted = "sync_completed"
	EventReminderFired = "reminder_fired"
	EventReminderSent  = "reminder_sent"
)

// SyncCompletedPayload summarizes one push/pull cycle for status indicators.
type SyncCompletedPayload struct {
	Reason      string    `json:"reason"`
	Pushed      int       `json:"pushed"`
	Failed      int       `json:"failed"`
	PulledActs  int       `json:"pulled_acts"`
	PulledTasks int       `json:"pulled_tasks"`
	Pending     int       `json:"pending"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// ReminderPayload describes a reminder handled by either scanner.
type ReminderPayload struct {
	TaskID     string    `json:"task_id"`
	Title      string    `json:"title"`
	ReminderAt time.Time `json:"reminder_at"`
	Recipients int       `json:"recipients,omitempty"`
	Delivered  int       `json:"delivered,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
