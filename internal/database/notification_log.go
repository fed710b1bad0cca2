package database

import (
	"context"
	"fmt"
	"time"
)

// LogNotification records that the local reminder for taskID was shown.
// It reports false when an entry already existed; the insert is the
// idempotency gate, so callers must emit only on true.
func (db *DB) LogNotification(ctx context.Context, taskID string, sentAt time.Time) (bool, error) {
	if err := db.guard(); err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO notification_log (task_id, sent_at) VALUES (?, ?)`, taskID, utc(sentAt))
	if err != nil {
		return false, fmt.Errorf("failed to log notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to log notification: %w", err)
	}
	return n == 1, nil
}

// HasNotification reports whether a log entry exists for taskID.
func (db *DB) HasNotification(ctx context.Context, taskID string) (bool, error) {
	if err := db.guard(); err != nil {
		return false, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_log WHERE task_id = ?`, taskID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to read notification log: %w", err)
	}
	return n > 0, nil
}

// ForgetNotification removes the entry so a reminder whose emit failed is retried.
func (db *DB) ForgetNotification(ctx context.Context, taskID string) error {
	if err := db.guard(); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM notification_log WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete notification log entry: %w", err)
	}
	return nil
}
