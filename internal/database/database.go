package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"fieldsync/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the device-local record store. It is the only durable copy of
// offline-authored data, so every failure is returned to the caller.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
	closed atomic.Bool
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+dsnParams(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases alive.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("local store initialized")

	return &DB{DB: sqlDB, logger: logger}, nil
}

func dsnParams(path string) string {
	if strings.Contains(path, "?") {
		return "&_busy_timeout=5000&_foreign_keys=on"
	}
	return "?_busy_timeout=5000&_foreign_keys=on"
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS acts (
            id TEXT PRIMARY KEY,
            glpi_ticket_id INTEGER,
            client_name TEXT NOT NULL,
            type TEXT NOT NULL,
            status TEXT NOT NULL,
            sync_error TEXT NOT NULL DEFAULT '',
            payload TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS tasks (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            status TEXT NOT NULL,
            scheduled_at DATETIME NOT NULL,
            assigned_technicians TEXT NOT NULL DEFAULT '[]',
            created_by TEXT NOT NULL DEFAULT '',
            reminder_at DATETIME,
            reminder_sent BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notification_log (
            task_id TEXT PRIMARY KEY,
            sent_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_acts_status ON acts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_acts_created_at ON acts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_reminder_at ON tasks(reminder_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Close disposes the store; later calls fail with models.ErrStoreClosed.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	return db.DB.Close()
}

func (db *DB) guard() error {
	if db == nil || db.closed.Load() {
		return models.ErrStoreClosed
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	if err := db.guard(); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()
	return fn(tx)
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
