package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tasksync/internal/models"

	"github.com/google/uuid"
)

// ConfirmEntry removes a confirmed entry and records the sync on its task in one transaction.
// The task only reads as synced once no later entry for it is still queued. A confirmed delete
// with nothing queued behind it purges the tombstone.
func (db *DB) ConfirmEntry(ctx context.Context, entry models.SyncEntry, c models.Confirmation) error {
	syncedAt := c.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = db.now()
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteEntry(ctx, tx, entry.ID); err != nil {
			return err
		}

		remaining, err := countTaskEntries(ctx, tx, entry.TaskID)
		if err != nil {
			return err
		}

		if entry.Operation == models.OpDelete && remaining == 0 {
			res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND is_deleted = 1`, entry.TaskID)
			if err != nil {
				return fmt.Errorf("failed to purge tombstone: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
		}

		if c.Remote != nil {
			query := `UPDATE tasks SET title = ?, description = ?, completed = ?, is_deleted = ?, updated_at = ? WHERE id = ?`
			if _, err := tx.ExecContext(ctx, query,
				c.Remote.Title, c.Remote.Description, c.Remote.Completed, c.Remote.IsDeleted,
				formatTime(c.Remote.UpdatedAt), entry.TaskID,
			); err != nil {
				return fmt.Errorf("failed to apply remote version: %w", err)
			}
		}

		status := models.SyncStatusSynced
		if remaining > 0 {
			status = models.SyncStatusPending
		}
		var serverID sql.NullString
		if c.ServerID != "" {
			serverID = sql.NullString{String: c.ServerID, Valid: true}
		}
		query := `UPDATE tasks SET sync_status = ?, last_synced_at = ?, server_id = COALESCE(?, server_id) WHERE id = ?`
		if _, err := tx.ExecContext(ctx, query, status, formatTime(syncedAt), serverID, entry.TaskID); err != nil {
			return fmt.Errorf("failed to mark task synced: %w", err)
		}
		return nil
	})
}

// RetryEntry consumes one attempt and flags the task as errored. Returns the new attempt count.
func (db *DB) RetryEntry(ctx context.Context, entry models.SyncEntry, errMsg string) (int, error) {
	var attempts int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		attempts, err = bumpAttempts(ctx, tx, entry.ID, errMsg)
		if err != nil {
			return err
		}
		return setTaskStatus(ctx, tx, entry.TaskID, models.SyncStatusError)
	})
	return attempts, err
}

// DeadLetterEntry archives the entry, removes it from the queue and fails the task, atomically.
func (db *DB) DeadLetterEntry(ctx context.Context, entry models.SyncEntry, errMsg string, attempts int) (*models.DeadLetter, error) {
	dl := &models.DeadLetter{
		ID:           uuid.NewString(),
		EntryID:      entry.ID,
		TaskID:       entry.TaskID,
		Operation:    entry.Operation,
		Payload:      entry.Payload,
		Attempts:     attempts,
		ErrorMessage: errMsg,
		FailedAt:     db.now(),
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO dead_letters (id, entry_id, task_id, operation, payload, attempts, error_message, failed_at)
                  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query,
			dl.ID, dl.EntryID, dl.TaskID, dl.Operation, string(payloadOrNull(dl.Payload)),
			dl.Attempts, dl.ErrorMessage, formatTime(dl.FailedAt),
		); err != nil {
			return fmt.Errorf("failed to insert dead letter: %w", err)
		}
		if err := deleteEntry(ctx, tx, entry.ID); err != nil {
			return err
		}
		return setTaskStatus(ctx, tx, entry.TaskID, models.SyncStatusFailed)
	})
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// DropEntry removes an entry without escalating it.
func (db *DB) DropEntry(ctx context.Context, entry models.SyncEntry, reason string) error {
	if err := deleteEntry(ctx, db.DB, entry.ID); err != nil {
		return err
	}
	db.logger.Debug().Str("entry_id", entry.ID).Str("task_id", entry.TaskID).Str("reason", reason).Msg("sync entry dropped")
	return nil
}

func countTaskEntries(ctx context.Context, q queryer, taskID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE task_id = ?`, taskID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count task entries: %w", err)
	}
	return n, nil
}

// setTaskStatus updates a task's sync status. A missing task is not an error.
func setTaskStatus(ctx context.Context, e execer, taskID string, status models.SyncStatus) error {
	if _, err := e.ExecContext(ctx, `UPDATE tasks SET sync_status = ? WHERE id = ?`, status, taskID); err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return nil
}

func payloadOrNull(p json.RawMessage) []byte {
	if len(p) == 0 {
		return []byte("null")
	}
	return p
}
