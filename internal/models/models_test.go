package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "juan pérez", NormalizeName("  Juan   PÉREZ "))
	assert.Equal(t, "", NormalizeName("   "))
	assert.Equal(t, NormalizeName("STRASSE"), NormalizeName("strasse"))
}

func TestNormalizeAssignees(t *testing.T) {
	got := NormalizeAssignees([]string{" Ana Diaz", "ana  diaz", "", "Luis"})
	assert.Equal(t, []string{"Ana Diaz", "Luis"}, got)
}

func TestTaskReminderPredicates(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	t.Run("DueWhenPastAndUnsent", func(t *testing.T) {
		task := &Task{Status: TaskStatusAssigned, AssignedTechnicians: []string{"ana"}, ReminderAt: ptrTime(now.Add(-time.Minute))}
		assert.True(t, task.ReminderDue(now))
	})

	t.Run("NotDueWhenSent", func(t *testing.T) {
		task := &Task{Status: TaskStatusAssigned, AssignedTechnicians: []string{"ana"}, ReminderAt: ptrTime(now), ReminderSent: true}
		assert.False(t, task.ReminderDue(now))
	})

	t.Run("TerminalSuppressed", func(t *testing.T) {
		for _, status := range []string{TaskStatusCompleted, TaskStatusCancelled} {
			task := &Task{Status: status, AssignedTechnicians: []string{"ana"}, ReminderAt: ptrTime(now.Add(-time.Hour))}
			assert.False(t, task.ReminderDue(now), status)
			assert.False(t, task.ReminderEligible(), status)
		}
	})

	t.Run("NoAssigneesSuppressed", func(t *testing.T) {
		task := &Task{Status: TaskStatusScheduled, ReminderAt: ptrTime(now.Add(-time.Hour))}
		assert.False(t, task.ReminderDue(now))
	})

	t.Run("FutureNotDue", func(t *testing.T) {
		task := &Task{Status: TaskStatusScheduled, AssignedTechnicians: []string{"ana"}, ReminderAt: ptrTime(now.Add(time.Second))}
		assert.False(t, task.ReminderDue(now))
	})
}

func TestTaskWithinWindow(t *testing.T) {
	now := time.Now()
	window := 30 * time.Minute

	assert.True(t, (&Task{ReminderAt: ptrTime(now.Add(-29 * time.Minute))}).WithinWindow(now, window))
	assert.False(t, (&Task{ReminderAt: ptrTime(now.Add(-31 * time.Minute))}).WithinWindow(now, window))
	assert.False(t, (&Task{ReminderAt: ptrTime(now.Add(time.Minute))}).WithinWindow(now, window))
	assert.False(t, (&Task{}).WithinWindow(now, window))
}

func TestTaskInvolvesUser(t *testing.T) {
	task := &Task{CreatedBy: "admin", AssignedTechnicians: []string{"Ana Diaz"}}
	assert.True(t, task.InvolvesUser(" ana   diaz"))
	assert.True(t, task.InvolvesUser("ADMIN"))
	assert.False(t, task.InvolvesUser("luis"))
	assert.False(t, task.InvolvesUser(""))
}

func TestMergeTask(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	existing := &Task{ID: "t1", Title: "old", ReminderAt: ptrTime(at), ReminderSent: true, CreatedAt: at.Add(-time.Hour)}

	t.Run("StickySentFlag", func(t *testing.T) {
		merged := MergeTask(existing, &Task{ID: "t1", Title: "new", ReminderAt: ptrTime(at)})
		assert.Equal(t, "new", merged.Title)
		assert.True(t, merged.ReminderSent)
		assert.Equal(t, existing.CreatedAt, merged.CreatedAt)
	})

	t.Run("RescheduledReminderRearms", func(t *testing.T) {
		merged := MergeTask(existing, &Task{ID: "t1", ReminderAt: ptrTime(at.Add(time.Hour))})
		assert.False(t, merged.ReminderSent)
	})

	t.Run("NoExisting", func(t *testing.T) {
		incoming := &Task{ID: "t2"}
		merged := MergeTask(nil, incoming)
		assert.Equal(t, "t2", merged.ID)
		assert.NotSame(t, incoming, merged)
	})
}

func TestTaskPatchApply(t *testing.T) {
	at := time.Now().Add(-time.Minute)
	task := &Task{Status: TaskStatusScheduled, ReminderAt: ptrTime(at), ReminderSent: true}

	status := TaskStatusInProgress
	(&TaskPatch{Status: &status}).Apply(task)
	assert.Equal(t, TaskStatusInProgress, task.Status)
	assert.True(t, task.ReminderSent)

	later := at.Add(time.Hour)
	(&TaskPatch{ReminderAt: &later, AssignedTechnicians: []string{" Ana ", "ana"}}).Apply(task)
	assert.False(t, task.ReminderSent)
	assert.Equal(t, []string{"Ana"}, task.AssignedTechnicians)

	(&TaskPatch{ClearReminder: true}).Apply(task)
	assert.Nil(t, task.ReminderAt)
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidActType(ActDelivery))
	assert.False(t, ValidActType("OTHER"))
	assert.True(t, ValidTaskStatus(TaskStatusAssigned))
	assert.False(t, ValidTaskStatus("DONE"))
}
