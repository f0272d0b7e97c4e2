package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/models"

	"github.com/google/uuid"
)

const entryColumns = `seq, id, task_id, operation, payload, attempts, status, last_error, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Enqueue appends a queue entry. It never overwrites an existing entry.
func (db *DB) Enqueue(ctx context.Context, taskID string, op models.Operation, payload json.RawMessage) (string, error) {
	if taskID == "" {
		return "", errors.New("task id is required")
	}
	if !op.Valid() {
		return "", fmt.Errorf("invalid operation %s", op)
	}
	return insertEntry(ctx, db.DB, taskID, op, payload, db.now())
}

func insertEntry(ctx context.Context, e execer, taskID string, op models.Operation, payload []byte, now time.Time) (string, error) {
	if len(payload) == 0 {
		payload = []byte("null")
	}
	id := uuid.NewString()
	query := `INSERT INTO sync_queue (id, task_id, operation, payload, attempts, status, created_at)
              VALUES (?, ?, ?, ?, 0, ?, ?)`
	if _, err := e.ExecContext(ctx, query, id, taskID, op, string(payload), models.SyncStatusPending, formatTime(now)); err != nil {
		return "", fmt.Errorf("failed to create sync entry: %w", err)
	}
	return id, nil
}

// DequeueEligible returns up to limit entries with attempts below maxAttempts, oldest first.
// An entry stays hidden while an earlier entry for the same task is stuck above the limit,
// so a task's operations can never overtake each other.
func (db *DB) DequeueEligible(ctx context.Context, limit, maxAttempts int) ([]models.SyncEntry, error) {
	query := `SELECT ` + entryColumns + `
              FROM sync_queue q
              WHERE q.attempts < ?
                AND NOT EXISTS (
                    SELECT 1 FROM sync_queue p
                    WHERE p.task_id = q.task_id
                      AND p.attempts >= ?
                      AND (p.created_at < q.created_at OR (p.created_at = q.created_at AND p.seq < q.seq))
                )
              ORDER BY q.created_at ASC, q.seq ASC
              LIMIT ?`
	return db.queryEntries(ctx, query, maxAttempts, maxAttempts, limit)
}

// RecordSuccess deletes a confirmed entry.
func (db *DB) RecordSuccess(ctx context.Context, entryID string) error {
	return deleteEntry(ctx, db.DB, entryID)
}

// RecordFailure increments the attempt counter and stores the error. Returns the new count.
func (db *DB) RecordFailure(ctx context.Context, entryID, errMsg string) (int, error) {
	return bumpAttempts(ctx, db.DB, entryID, errMsg)
}

func (db *DB) GetEntry(ctx context.Context, entryID string) (*models.SyncEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE id = ?`, entryID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns every queued entry for a task in dispatch order.
func (db *DB) ListEntries(ctx context.Context, taskID string) ([]models.SyncEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM sync_queue WHERE task_id = ? ORDER BY created_at ASC, seq ASC`
	return db.queryEntries(ctx, query, taskID)
}

func (db *DB) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync entries: %w", err)
	}
	return n, nil
}

func deleteEntry(ctx context.Context, e execer, entryID string) error {
	res, err := e.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete sync entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

func bumpAttempts(ctx context.Context, q queryer, entryID, errMsg string) (int, error) {
	query := `UPDATE sync_queue SET attempts = attempts + 1, last_error = ?, status = ? WHERE id = ? RETURNING attempts`
	var attempts int
	err := q.QueryRowContext(ctx, query, errMsg, models.SyncStatusError, entryID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrEntryNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record sync failure: %w", err)
	}
	return attempts, nil
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...any) ([]models.SyncEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync entries: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(row rowScanner) (*models.SyncEntry, error) {
	var (
		e         models.SyncEntry
		payload   string
		lastError sql.NullString
		createdAt string
	)
	err := row.Scan(&e.Seq, &e.ID, &e.TaskID, &e.Operation, &payload, &e.Attempts, &e.Status, &lastError, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.LastError = stringPtr(lastError)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}
