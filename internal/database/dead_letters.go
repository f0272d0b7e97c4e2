package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tasksync/internal/domain"
	"tasksync/internal/models"
)

const deadLetterColumns = `id, entry_id, task_id, operation, payload, attempts, error_message, failed_at`

// ListDeadLetters returns archived entries, most recent first. limit <= 0 means no limit.
func (db *DB) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters ORDER BY failed_at DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letters: %w", err)
	}
	defer rows.Close()

	var out []models.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, *dl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetter, error) {
	return getDeadLetter(ctx, db.DB, id)
}

func (db *DB) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

func (db *DB) PurgeDeadLetter(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge dead letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDeadLetterNotFound
	}
	return nil
}

// Requeue is the explicit operator recovery path: the archived mutation goes back into the
// queue as a fresh entry with zero attempts and the dead letter is removed.
func (db *DB) Requeue(ctx context.Context, id string) (string, error) {
	var entryID string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		dl, err := getDeadLetter(ctx, tx, id)
		if err != nil {
			return err
		}
		entryID, err = insertEntry(ctx, tx, dl.TaskID, dl.Operation, payloadOrNull(dl.Payload), db.now())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to remove dead letter: %w", err)
		}
		return setTaskStatus(ctx, tx, dl.TaskID, models.SyncStatusPending)
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}

func getDeadLetter(ctx context.Context, q queryer, id string) (*models.DeadLetter, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, id)
	dl, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, err
	}
	return dl, nil
}

func scanDeadLetter(row rowScanner) (*models.DeadLetter, error) {
	var (
		dl       models.DeadLetter
		payload  string
		failedAt string
	)
	err := row.Scan(&dl.ID, &dl.EntryID, &dl.TaskID, &dl.Operation, &payload, &dl.Attempts, &dl.ErrorMessage, &failedAt)
	if err != nil {
		return nil, err
	}
	dl.Payload = json.RawMessage(payload)
	if dl.FailedAt, err = parseTime(failedAt); err != nil {
		return nil, err
	}
	return &dl, nil
}
