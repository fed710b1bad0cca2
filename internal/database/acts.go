package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/models"

	"github.com/google/uuid"
)

const actColumns = `id, glpi_ticket_id, client_name, type, status, sync_error, payload, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAct(row rowScanner) (*models.Act, error) {
	var (
		act     models.Act
		ticket  sql.NullInt64
		payload sql.NullString
	)
	err := row.Scan(
		&act.ID,
		&ticket,
		&act.ClientName,
		&act.Type,
		&act.Status,
		&act.SyncError,
		&payload,
		&act.CreatedAt,
		&act.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ticket.Valid {
		id := ticket.Int64
		act.GLPITicketID = &id
	}
	if payload.Valid && payload.String != "" {
		act.Payload = []byte(payload.String)
	}
	act.CreatedAt = act.CreatedAt.UTC()
	act.UpdatedAt = act.UpdatedAt.UTC()
	return &act, nil
}

func nullTicket(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func nullPayload(p []byte) sql.NullString {
	if len(p) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}

// SaveDraft inserts act with status DRAFT and returns its id.
// A missing id is replaced by a fresh UUID that stays stable across sync.
func (db *DB) SaveDraft(ctx context.Context, act *models.Act) (string, error) {
	if err := db.guard(); err != nil {
		return "", err
	}
	if !models.ValidActType(act.Type) {
		return "", fmt.Errorf("act type %q: %w", act.Type, models.ErrInvalidRecord)
	}
	if act.ID == "" {
		act.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if act.CreatedAt.IsZero() {
		act.CreatedAt = now
	}
	act.UpdatedAt = now
	act.Status = models.ActStatusDraft
	act.SyncError = ""

	query := `INSERT INTO acts (` + actColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		act.ID,
		nullTicket(act.GLPITicketID),
		act.ClientName,
		act.Type,
		act.Status,
		act.SyncError,
		nullPayload(act.Payload),
		utc(act.CreatedAt),
		act.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save draft: %w", err)
	}
	return act.ID, nil
}

// EditAct stores form-layer edits. A DRAFT stays DRAFT; any other act
// re-enters PENDING_SYNC so the edit is pushed again.
func (db *DB) EditAct(ctx context.Context, act *models.Act) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getActTx(ctx, tx, act.ID)
		if err != nil {
			return err
		}

		status := models.ActStatusPendingSync
		if current.Status == models.ActStatusDraft {
			status = models.ActStatusDraft
		}
		now := time.Now().UTC()

		_, err = tx.ExecContext(ctx, `
            UPDATE acts SET client_name = ?, type = ?, payload = ?, status = ?, sync_error = '', updated_at = ?
            WHERE id = ?`,
			act.ClientName, act.Type, nullPayload(act.Payload), status, now, act.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to edit act: %w", err)
		}
		act.Status = status
		act.UpdatedAt = now
		return nil
	})
}

// GetAct returns an act by id or models.ErrNotFound.
func (db *DB) GetAct(ctx context.Context, id string) (*models.Act, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+actColumns+` FROM acts WHERE id = ?`, id)
	act, err := scanAct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("act %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get act: %w", err)
	}
	return act, nil
}

func getActTx(ctx context.Context, tx *sql.Tx, id string) (*models.Act, error) {
	act, err := scanAct(tx.QueryRowContext(ctx, `SELECT `+actColumns+` FROM acts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("act %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get act: %w", err)
	}
	return act, nil
}

// MarkForSync queues an act for push. Already SYNCED acts are left untouched.
func (db *DB) MarkForSync(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		act, err := getActTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if act.Status == models.ActStatusSynced || act.Status == models.ActStatusPendingSync {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE acts SET status = ? WHERE id = ?`, models.ActStatusPendingSync, id)
		if err != nil {
			return fmt.Errorf("failed to mark act for sync: %w", err)
		}
		return nil
	})
}

// UpdateSyncStatus records the outcome of a push. Only SYNCED and ERROR are accepted;
// detail is kept for diagnostics and cleared on success.
func (db *DB) UpdateSyncStatus(ctx context.Context, id, status, detail string) error {
	if err := db.guard(); err != nil {
		return err
	}
	switch status {
	case models.ActStatusSynced:
		detail = ""
	case models.ActStatusError:
	default:
		return fmt.Errorf("sync status %q: %w", status, models.ErrInvalidStatus)
	}

	res, err := db.ExecContext(ctx, `UPDATE acts SET status = ?, sync_error = ? WHERE id = ?`, status, detail, id)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("act %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// MarkSynced flips a pushed act to SYNCED and stores its ticket id, but only if
// the row still carries the pushed snapshot's updated_at. It reports whether the
// row changed; false means the act was edited meanwhile and stays queued.
func (db *DB) MarkSynced(ctx context.Context, id string, ticketID int64, pushedUpdatedAt time.Time) (bool, error) {
	if err := db.guard(); err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
        UPDATE acts SET status = ?, glpi_ticket_id = ?, sync_error = ''
        WHERE id = ? AND updated_at = ? AND status IN (?, ?)`,
		models.ActStatusSynced, ticketID, id, utc(pushedUpdatedAt),
		models.ActStatusPendingSync, models.ActStatusError,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark act synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark act synced: %w", err)
	}
	return n > 0, nil
}

// GetPendingSync returns the outbound queue, oldest first.
func (db *DB) GetPendingSync(ctx context.Context) ([]models.Act, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
        SELECT `+actColumns+` FROM acts
        WHERE status IN (?, ?)
        ORDER BY created_at ASC, id ASC`,
		models.ActStatusPendingSync, models.ActStatusError,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending acts: %w", err)
	}
	defer rows.Close()

	var acts []models.Act
	for rows.Next() {
		act, err := scanAct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan act: %w", err)
		}
		acts = append(acts, *act)
	}
	return acts, rows.Err()
}

// PendingCount returns the size of the outbound queue.
func (db *DB) PendingCount(ctx context.Context) (int, error) {
	if err := db.guard(); err != nil {
		return 0, err
	}
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM acts WHERE status IN (?, ?)`,
		models.ActStatusPendingSync, models.ActStatusError).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending acts: %w", err)
	}
	return n, nil
}

// SaveRemoteActs upserts server copies by id. Remote copies are SYNCED by
// definition; a local row wins ties and any newer local edit.
func (db *DB) SaveRemoteActs(ctx context.Context, acts []models.Act) (int, error) {
	applied := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i := range acts {
			remote := acts[i]
			if remote.ID == "" {
				continue
			}

			local, err := getActTx(ctx, tx, remote.ID)
			switch {
			case errors.Is(err, models.ErrNotFound):
				_, err = tx.ExecContext(ctx, `INSERT INTO acts (`+actColumns+`) VALUES (?, ?, ?, ?, ?, '', ?, ?, ?)`,
					remote.ID,
					nullTicket(remote.GLPITicketID),
					remote.ClientName,
					remote.Type,
					models.ActStatusSynced,
					nullPayload(remote.Payload),
					utc(remote.CreatedAt),
					utc(remote.UpdatedAt),
				)
				if err != nil {
					return fmt.Errorf("failed to insert remote act %s: %w", remote.ID, err)
				}
				applied++
			case err != nil:
				return err
			case remote.UpdatedAt.After(local.UpdatedAt):
				ticket := remote.GLPITicketID
				if ticket == nil {
					ticket = local.GLPITicketID
				}
				_, err = tx.ExecContext(ctx, `
                    UPDATE acts SET glpi_ticket_id = ?, client_name = ?, type = ?, status = ?, sync_error = '',
                        payload = ?, updated_at = ?
                    WHERE id = ?`,
					nullTicket(ticket),
					remote.ClientName,
					remote.Type,
					models.ActStatusSynced,
					nullPayload(remote.Payload),
					utc(remote.UpdatedAt),
					remote.ID,
				)
				if err != nil {
					return fmt.Errorf("failed to update remote act %s: %w", remote.ID, err)
				}
				applied++
			case local.GLPITicketID == nil && remote.GLPITicketID != nil:
				// same or older copy, but it carries the server-assigned ticket id
				_, err = tx.ExecContext(ctx, `UPDATE acts SET glpi_ticket_id = ? WHERE id = ?`, *remote.GLPITicketID, remote.ID)
				if err != nil {
					return fmt.Errorf("failed to attach ticket to act %s: %w", remote.ID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}
