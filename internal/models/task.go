package models

import "time"

// Task is a schedulable, assignable unit of work with an optional one-shot reminder.
type Task struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Status              string     `json:"status"`
	ScheduledAt         time.Time  `json:"scheduledAt"`
	AssignedTechnicians []string   `json:"assignedTechnicians"`
	CreatedBy           string     `json:"createdBy"`
	ReminderAt          *time.Time `json:"reminderAt"`
	ReminderSent        bool       `json:"reminderSent"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Terminal reports whether the task is COMPLETED or CANCELLED.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusCancelled
}

// ReminderEligible: reminder set, task not terminal and at least one assignee.
func (t *Task) ReminderEligible() bool {
	return t.ReminderAt != nil && !t.Terminal() && len(t.AssignedTechnicians) > 0
}

// ReminderDue is the server-side due predicate.
func (t *Task) ReminderDue(now time.Time) bool {
	return t.ReminderEligible() && !t.ReminderSent && !t.ReminderAt.After(now)
}

// WithinWindow reports whether the reminder time has passed but is no older than window.
func (t *Task) WithinWindow(now time.Time, window time.Duration) bool {
	if t.ReminderAt == nil || t.ReminderAt.After(now) {
		return false
	}
	return now.Sub(*t.ReminderAt) <= window
}

// InvolvesUser reports whether user created the task or is assigned to it.
func (t *Task) InvolvesUser(user string) bool {
	key := NormalizeName(user)
	if key == "" {
		return false
	}
	if NormalizeName(t.CreatedBy) == key {
		return true
	}
	for _, name := range t.AssignedTechnicians {
		if NormalizeName(name) == key {
			return true
		}
	}
	return false
}

// MergeTask applies incoming over existing. The reminder flag stays set while
// ReminderAt is unchanged so a stale copy cannot re-arm a delivered reminder.
func MergeTask(existing, incoming *Task) *Task {
	merged := *incoming
	if existing == nil {
		return &merged
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = existing.CreatedAt
	}
	if sameInstant(existing.ReminderAt, incoming.ReminderAt) {
		merged.ReminderSent = existing.ReminderSent || incoming.ReminderSent
	}
	return &merged
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// TaskPatch is a partial task update (PATCH /tasks/:id).
type TaskPatch struct {
	Title               *string    `json:"title,omitempty"`
	Status              *string    `json:"status,omitempty"`
	ScheduledAt         *time.Time `json:"scheduledAt,omitempty"`
	AssignedTechnicians []string   `json:"assignedTechnicians,omitempty"`
	ReminderAt          *time.Time `json:"reminderAt,omitempty"`
	ClearReminder       bool       `json:"clearReminder,omitempty"`
}

// Apply mutates t with the non-empty patch fields. Changing the reminder time
// re-arms the reminder.
func (p *TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ScheduledAt != nil {
		t.ScheduledAt = *p.ScheduledAt
	}
	if p.AssignedTechnicians != nil {
		t.AssignedTechnicians = NormalizeAssignees(p.AssignedTechnicians)
	}
	switch {
	case p.ClearReminder:
		t.ReminderAt = nil
		t.ReminderSent = false
	case p.ReminderAt != nil && !sameInstant(t.ReminderAt, p.ReminderAt):
		at := *p.ReminderAt
		t.ReminderAt = &at
		t.ReminderSent = false
	}
}

// NotificationLogEntry marks a task whose local reminder was already shown.
type NotificationLogEntry struct {
	TaskID string    `json:"taskId"`
	SentAt time.Time `json:"sentAt"`
}

// Technician is a directory record used to resolve contact addresses.
type Technician struct {
	ID       string `json:"id" yaml:"id"`
	FullName string `json:"fullName" yaml:"full_name"`
	Username string `json:"username" yaml:"username"`
	Mobile   string `json:"mobile" yaml:"mobile"`
}
