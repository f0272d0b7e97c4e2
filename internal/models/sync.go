package models

import (
	"encoding/json"
	"time"
)

// SyncEntry is a pending local mutation awaiting transmission.
type SyncEntry struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	TaskID    string          `json:"task_id"`
	Operation Operation       `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Status    SyncStatus      `json:"status"`
	LastError *string         `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DeadLetter is the terminal archive of an entry that exhausted its retries.
type DeadLetter struct {
	ID           string          `json:"id"`
	EntryID      string          `json:"entry_id"`
	TaskID       string          `json:"task_id"`
	Operation    Operation       `json:"operation"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	ErrorMessage string          `json:"error_message"`
	FailedAt     time.Time       `json:"failed_at"`
}

// SyncError describes a single failure reported by a sync cycle.
type SyncError struct {
	TaskID    string    `json:"task_id"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncResult is the aggregate outcome of one sync cycle.
type SyncResult struct {
	Success     bool        `json:"success"`
	SyncedItems int         `json:"synced_items"`
	FailedItems int         `json:"failed_items"`
	Errors      []SyncError `json:"errors"`
}

// Confirmation carries what a successful remote response tells us about an entry.
type Confirmation struct {
	ServerID string
	SyncedAt time.Time
	// Remote is set only when the remote version won conflict resolution.
	Remote *Task
}
