package syncer

import (
	"crypto/sha256"
	"encoding/hex"

	"tasksync/internal/domain"
	"tasksync/internal/models"
)

// Checksum is the hex SHA-256 over each item's entry id followed by its payload, in send order.
func Checksum(items []domain.BatchItem) string {
	h := sha256.New()
	for _, item := range items {
		h.Write([]byte(item.ID))
		h.Write(item.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func toBatchItems(entries []models.SyncEntry) []domain.BatchItem {
	items := make([]domain.BatchItem, len(entries))
	for i, e := range entries {
		items[i] = domain.BatchItem{
			ID:        e.ID,
			TaskID:    e.TaskID,
			Operation: e.Operation,
			Data:      e.Payload,
		}
	}
	return items
}

// planBatches splits dispatch-ordered entries into batches of at most size entries.
// Round r holds the r-th entry of every task, and rounds are chunked in order, so a batch
// never carries two entries for one task and a task's entries leave in their queue order.
func planBatches(entries []models.SyncEntry, size int) [][]models.SyncEntry {
	if size < 1 {
		size = models.DefaultBatchSize
	}

	var rounds [][]models.SyncEntry
	depth := make(map[string]int)
	for _, e := range entries {
		r := depth[e.TaskID]
		depth[e.TaskID] = r + 1
		if r == len(rounds) {
			rounds = append(rounds, nil)
		}
		rounds[r] = append(rounds[r], e)
	}

	var batches [][]models.SyncEntry
	for _, round := range rounds {
		for start := 0; start < len(round); start += size {
			end := min(start+size, len(round))
			batches = append(batches, round[start:end])
		}
	}
	return batches
}

// collapseSuperseded removes update entries that a later delete of the same task makes moot.
func collapseSuperseded(entries []models.SyncEntry) (kept, superseded []models.SyncEntry) {
	deleted := make(map[string]bool)
	keep := make([]bool, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch {
		case e.Operation == models.OpDelete:
			deleted[e.TaskID] = true
			keep[i] = true
		case e.Operation == models.OpUpdate && deleted[e.TaskID]:
			keep[i] = false
		default:
			keep[i] = true
		}
	}
	for i, e := range entries {
		if keep[i] {
			kept = append(kept, e)
		} else {
			superseded = append(superseded, e)
		}
	}
	return kept, superseded
}
