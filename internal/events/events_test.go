package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventSyncCompleted, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventSyncCompleted, SyncCompletedPayload{Reason: "online", Pushed: 2, Pending: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventSyncCompleted, received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded SyncCompletedPayload
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, "online", decoded.Reason)
	assert.Equal(t, 2, decoded.Pushed)
	assert.Equal(t, 1, decoded.Pending)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe(EventReminderFired, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventReminderFired, func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: EventReminderFired})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON(EventReminderSent, ReminderPayload{TaskID: "t1"}))
}

func TestReminderPayload(t *testing.T) {
	bus := NewEventBus()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var got ReminderPayload
	bus.Subscribe(EventReminderSent, func(e *Event) error { return e.Decode(&got) })
	require.NoError(t, bus.PublishJSON(EventReminderSent, ReminderPayload{TaskID: "t1", ReminderAt: at, Recipients: 2, Delivered: 1}))

	assert.Equal(t, "t1", got.TaskID)
	assert.True(t, got.ReminderAt.Equal(at))
	assert.Equal(t, 1, got.Delivered)
}
