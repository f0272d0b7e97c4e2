package database

import (
	"context"
	"testing"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetters_ListAndPurge(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	db.now = stepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		task, err := db.CreateLocal(ctx, &models.Task{Title: title})
		require.NoError(t, err)
		dl, err := db.DeadLetterEntry(ctx, firstEntry(t, db, task.ID), "failed "+title, 3)
		require.NoError(t, err)
		ids = append(ids, dl.ID)
	}

	all, err := db.ListDeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")

	limited, err := db.ListDeadLetters(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, db.PurgeDeadLetter(ctx, ids[0]))
	assert.ErrorIs(t, db.PurgeDeadLetter(ctx, ids[0]), domain.ErrDeadLetterNotFound)

	n, err := db.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.GetDeadLetter(ctx, ids[0])
	assert.ErrorIs(t, err, domain.ErrDeadLetterNotFound)
}

func TestRequeue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	task, err := db.CreateLocal(ctx, &models.Task{Title: "retry me"})
	require.NoError(t, err)
	entry := firstEntry(t, db, task.ID)
	dl, err := db.DeadLetterEntry(ctx, entry, "exhausted", 3)
	require.NoError(t, err)

	newID, err := db.Requeue(ctx, dl.ID)
	require.NoError(t, err)
	assert.NotEqual(t, entry.ID, newID)

	requeued, err := db.GetEntry(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, 0, requeued.Attempts)
	assert.Equal(t, models.OpCreate, requeued.Operation)
	assert.JSONEq(t, string(entry.Payload), string(requeued.Payload))

	stored, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, stored.SyncStatus)

	n, err := db.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = db.Requeue(ctx, dl.ID)
	assert.ErrorIs(t, err, domain.ErrDeadLetterNotFound)
}
