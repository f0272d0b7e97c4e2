package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tasksync/internal/models"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrEntryNotFound      = errors.New("sync entry not found")
	ErrDeadLetterNotFound = errors.New("dead letter not found")
	ErrSyncInProgress     = errors.New("sync cycle already in progress")
	ErrOffline            = errors.New("remote peer unreachable")
)

// TaskStore owns task records. Every mutation appends a queue entry in the same transaction.
type TaskStore interface {
	CreateLocal(ctx context.Context, task *models.Task) (*models.Task, error)
	UpdateLocal(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	SoftDeleteLocal(ctx context.Context, id string) (bool, error)
	GetPendingSyncTasks(ctx context.Context) ([]models.Task, error)
	MarkSynced(ctx context.Context, id string, serverID *string) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
	LastSyncedAt(ctx context.Context) (*time.Time, error)
}

// SyncQueueStore is the durable, ordered record of pending local mutations.
type SyncQueueStore interface {
	Enqueue(ctx context.Context, taskID string, op models.Operation, payload json.RawMessage) (string, error)
	DequeueEligible(ctx context.Context, limit, maxAttempts int) ([]models.SyncEntry, error)
	RecordSuccess(ctx context.Context, entryID string) error
	RecordFailure(ctx context.Context, entryID, errMsg string) (int, error)
	GetEntry(ctx context.Context, entryID string) (*models.SyncEntry, error)
	ListEntries(ctx context.Context, taskID string) ([]models.SyncEntry, error)
	CountPending(ctx context.Context) (int, error)
}

// DeadLetterStore is the terminal archive of entries that exhausted their retries.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id string) (*models.DeadLetter, error)
	CountDeadLetters(ctx context.Context) (int, error)
	PurgeDeadLetter(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string) (string, error)
}

// OutcomeStore applies the result of one dispatched entry as a single atomic step.
type OutcomeStore interface {
	ConfirmEntry(ctx context.Context, entry models.SyncEntry, c models.Confirmation) error
	RetryEntry(ctx context.Context, entry models.SyncEntry, errMsg string) (int, error)
	DeadLetterEntry(ctx context.Context, entry models.SyncEntry, errMsg string, attempts int) (*models.DeadLetter, error)
	DropEntry(ctx context.Context, entry models.SyncEntry, reason string) error
}

// SyncStore is everything the orchestrator needs from local storage.
type SyncStore interface {
	TaskStore
	SyncQueueStore
	DeadLetterStore
	OutcomeStore
}

// BatchItem is one queue entry as sent to the remote peer.
type BatchItem struct {
	ID        string           `json:"id"`
	TaskID    string           `json:"task_id"`
	Operation models.Operation `json:"operation"`
	Data      json.RawMessage  `json:"data"`
	// ServerID is the task's remote id at dispatch time. The snapshot in Data keeps the id it
	// had when queued, which is empty for anything queued before the create was confirmed.
	// Not covered by the checksum.
	ServerID string `json:"server_id,omitempty"`
}

// ItemResult is the remote verdict for one batch item.
type ItemResult struct {
	TaskID    string           `json:"task_id"`
	Operation models.Operation `json:"operation"`
	Success   bool             `json:"success"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      string           `json:"code,omitempty"`
}

// BatchResult is the remote response to a batch request.
type BatchResult struct {
	Success     bool         `json:"success"`
	Results     []ItemResult `json:"results"`
	SyncedItems int          `json:"synced_items"`
	FailedItems int          `json:"failed_items"`
}

// RemoteSyncClient talks to the central server.
type RemoteSyncClient interface {
	SendBatch(ctx context.Context, items []BatchItem, checksum string) (*BatchResult, error)
	CreateTask(ctx context.Context, task *models.Task) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) (*models.Task, error)
	DeleteTask(ctx context.Context, task *models.Task) error
	CheckHealth(ctx context.Context) bool
}

// ConnectivityProbe reports reachability. It never returns an error.
type ConnectivityProbe interface {
	Check(ctx context.Context) bool
}

// RunLocker guards against overlapping sync cycles.
type RunLocker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// DeadLetterSink receives a copy of every escalated entry.
type DeadLetterSink interface {
	Push(ctx context.Context, dl *models.DeadLetter) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
