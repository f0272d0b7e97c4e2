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

const taskColumns = `id, title, description, completed, is_deleted, created_at, updated_at, sync_status, server_id, last_synced_at`

// CreateLocal inserts a task and queues its create operation in one transaction.
func (db *DB) CreateLocal(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task == nil {
		return nil, errors.New("task is required")
	}
	created := *task
	now := db.now()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}
	created.IsDeleted = false
	created.SyncStatus = models.SyncStatusPending
	created.ServerID = nil
	created.LastSyncedAt = nil

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query,
			created.ID,
			created.Title,
			created.Description,
			created.Completed,
			created.IsDeleted,
			formatTime(created.CreatedAt),
			formatTime(created.UpdatedAt),
			created.SyncStatus,
			nil,
			nil,
		); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		_, err := db.enqueueSnapshot(ctx, tx, &created, models.OpCreate, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateLocal patches a live task and queues an update. It returns nil when the task
// does not exist or is a tombstone.
func (db *DB) UpdateLocal(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	var updated *models.Task
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		task, err := getTask(ctx, tx, id)
		if errors.Is(err, domain.ErrTaskNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if task.IsDeleted {
			return nil
		}

		if !patch.Apply(task) {
			updated = task
			return nil
		}
		now := db.now()
		task.UpdatedAt = now
		task.SyncStatus = models.SyncStatusPending

		query := `UPDATE tasks SET title = ?, description = ?, completed = ?, updated_at = ?, sync_status = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, query,
			task.Title, task.Description, task.Completed, formatTime(task.UpdatedAt), task.SyncStatus, task.ID,
		); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		if _, err := db.enqueueSnapshot(ctx, tx, task, models.OpUpdate, now); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SoftDeleteLocal turns a live task into a tombstone and queues its delete.
func (db *DB) SoftDeleteLocal(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		task, err := getTask(ctx, tx, id)
		if errors.Is(err, domain.ErrTaskNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if task.IsDeleted {
			return nil
		}

		now := db.now()
		task.IsDeleted = true
		task.UpdatedAt = now
		task.SyncStatus = models.SyncStatusPending

		query := `UPDATE tasks SET is_deleted = 1, updated_at = ?, sync_status = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, query, formatTime(now), task.SyncStatus, task.ID); err != nil {
			return fmt.Errorf("failed to soft delete task: %w", err)
		}
		if _, err := db.enqueueSnapshot(ctx, tx, task, models.OpDelete, now); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// GetPendingSyncTasks returns tasks, tombstones included, that still have unconfirmed changes.
func (db *DB) GetPendingSyncTasks(ctx context.Context) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
              WHERE sync_status IN ('pending', 'in-progress', 'error')
              ORDER BY updated_at ASC`
	return db.queryTasks(ctx, query)
}

// MarkSynced flags the task as synced now, recording the remote identifier when given.
func (db *DB) MarkSynced(ctx context.Context, id string, serverID *string) error {
	query := `UPDATE tasks SET sync_status = ?, last_synced_at = ?, server_id = COALESCE(?, server_id) WHERE id = ?`
	res, err := db.ExecContext(ctx, query, models.SyncStatusSynced, formatTime(db.now()), nullString(serverID), id)
	if err != nil {
		return fmt.Errorf("failed to mark task synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// GetTask returns a task by ID, tombstones included.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, db.DB, id)
}

// ListTasks returns live tasks, oldest first.
func (db *DB) ListTasks(ctx context.Context) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE is_deleted = 0 ORDER BY created_at ASC`
	return db.queryTasks(ctx, query)
}

// LastSyncedAt returns the most recent confirmation time across all tasks.
func (db *DB) LastSyncedAt(ctx context.Context) (*time.Time, error) {
	var last sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT MAX(last_synced_at) FROM tasks`).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to get last sync time: %w", err)
	}
	return parseNullTime(last)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q queryer, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t                    models.Task
		createdAt, updatedAt string
		serverID, lastSynced sql.NullString
	)
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Completed,
		&t.IsDeleted,
		&createdAt,
		&updatedAt,
		&t.SyncStatus,
		&serverID,
		&lastSynced,
	)
	if err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.LastSyncedAt, err = parseNullTime(lastSynced); err != nil {
		return nil, err
	}
	t.ServerID = stringPtr(serverID)
	return &t, nil
}

// enqueueSnapshot appends a queue entry carrying the task's state at enqueue time.
func (db *DB) enqueueSnapshot(ctx context.Context, tx *sql.Tx, task *models.Task, op models.Operation, now time.Time) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task snapshot: %w", err)
	}
	return insertEntry(ctx, tx, task.ID, op, payload, now)
}
