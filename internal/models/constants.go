package models

import "time"

const (
	// DefaultBatchSize is the number of queue entries sent per batch request.
	DefaultBatchSize = 50

	// DefaultMaxAttempts is the number of failed dispatches before an entry is dead-lettered.
	DefaultMaxAttempts = 3

	// DefaultConnectivityTimeout bounds a single reachability probe.
	DefaultConnectivityTimeout = 5 * time.Second

	// DefaultRemoteTimeout bounds a single remote call.
	DefaultRemoteTimeout = 10 * time.Second

	// DefaultSyncInterval is the pause between background cycles.
	DefaultSyncInterval = 30 * time.Second

	// DefaultMaxEntriesPerCycle caps how many queue entries one cycle drains.
	DefaultMaxEntriesPerCycle = 1000
)

// Cycle-level error markers placed in SyncError.Operation.
const (
	CycleOperationConnectivity = "connectivity"
	CycleOperationCancelled    = "cancelled"
	CycleOperationInProgress   = "in_progress"
	CycleOperationStorage      = "storage"
)

// TimeLayout is the sortable textual form used for persisted timestamps.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
