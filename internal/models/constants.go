package models

import "time"

// Act types.
const (
	ActPreventive = "PREVENTIVE"
	ActCorrective = "CORRECTIVE"
	ActDelivery   = "DELIVERY"
)

// Act sync statuses. PENDING_SYNC and ERROR form the outbound queue.
const (
	ActStatusDraft       = "DRAFT"
	ActStatusPendingSync = "PENDING_SYNC"
	ActStatusSynced      = "SYNCED"
	ActStatusError       = "ERROR"
)

// Task statuses.
const (
	TaskStatusScheduled  = "SCHEDULED"
	TaskStatusAssigned   = "ASSIGNED"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusCancelled  = "CANCELLED"
	TaskStatusCompleted  = "COMPLETED"
)

const (
	// DefaultClientReminderInterval частота локального сканера напоминаний
	DefaultClientReminderInterval = 5 * time.Second

	// DefaultReminderWindow насколько старое напоминание ещё показывается
	DefaultReminderWindow = 30 * time.Minute

	// DefaultReminderCooldown время удержания id в наборе обработки
	DefaultReminderCooldown = 5 * time.Second

	// DefaultServerReminderInterval частота серверного сканера
	DefaultServerReminderInterval = 60 * time.Second

	// DefaultPullLimit количество актов, загружаемых за один цикл
	DefaultPullLimit = 50

	// DefaultHTTPTimeout таймаут исходящих HTTP вызовов
	DefaultHTTPTimeout = 15 * time.Second

	// DefaultRecoveryInterval пауза перед повторной проверкой основной БД
	DefaultRecoveryInterval = time.Minute
)

// ValidActType reports whether t is a known act type.
func ValidActType(t string) bool {
	switch t {
	case ActPreventive, ActCorrective, ActDelivery:
		return true
	default:
		return false
	}
}

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskStatusScheduled, TaskStatusAssigned, TaskStatusInProgress, TaskStatusCancelled, TaskStatusCompleted:
		return true
	default:
		return false
	}
}
