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

func TestEnqueueValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_, err := db.Enqueue(ctx, "", models.OpCreate, nil)
	assert.Error(t, err)

	_, err = db.Enqueue(ctx, "task", models.Operation(0), nil)
	assert.Error(t, err)

	id, err := db.Enqueue(ctx, "task", models.OpUpdate, nil)
	require.NoError(t, err)

	entry, err := db.GetEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "null", string(entry.Payload))
	assert.Equal(t, models.SyncStatusPending, entry.Status)
	assert.Nil(t, entry.LastError)
}

func TestDequeueEligible_Order(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	db.now = stepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	first, err := db.Enqueue(ctx, "b", models.OpCreate, []byte(`{}`))
	require.NoError(t, err)
	second, err := db.Enqueue(ctx, "a", models.OpCreate, []byte(`{}`))
	require.NoError(t, err)
	third, err := db.Enqueue(ctx, "b", models.OpUpdate, []byte(`{}`))
	require.NoError(t, err)

	entries, err := db.DequeueEligible(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{first, second, third}, []string{entries[0].ID, entries[1].ID, entries[2].ID})

	limited, err := db.DequeueEligible(ctx, 2, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDequeueEligible_SameTimestampUsesInsertionOrder(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return fixed }

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := db.Enqueue(ctx, "t", models.OpUpdate, []byte(`{}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	entries, err := db.DequeueEligible(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, ids[i], e.ID)
	}
}

func TestDequeueEligible_HidesEntriesBehindExhaustedPredecessor(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	db.now = stepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	stuck, err := db.Enqueue(ctx, "a", models.OpCreate, []byte(`{}`))
	require.NoError(t, err)
	_, err = db.Enqueue(ctx, "a", models.OpUpdate, []byte(`{}`))
	require.NoError(t, err)
	other, err := db.Enqueue(ctx, "b", models.OpCreate, []byte(`{}`))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		attempts, err := db.RecordFailure(ctx, stuck, "boom")
		require.NoError(t, err)
		assert.Equal(t, i, attempts)
	}

	entries, err := db.DequeueEligible(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, other, entries[0].ID)
}

func TestRecordSuccessAndFailure(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	id, err := db.Enqueue(ctx, "t", models.OpCreate, []byte(`{"a":1}`))
	require.NoError(t, err)

	attempts, err := db.RecordFailure(ctx, id, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	entry, err := db.GetEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, entry.Status)
	require.NotNil(t, entry.LastError)
	assert.Equal(t, "timeout", *entry.LastError)
	assert.JSONEq(t, `{"a":1}`, string(entry.Payload))

	require.NoError(t, db.RecordSuccess(ctx, id))
	_, err = db.GetEntry(ctx, id)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)

	assert.ErrorIs(t, db.RecordSuccess(ctx, id), domain.ErrEntryNotFound)
	_, err = db.RecordFailure(ctx, id, "x")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestCountPending(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	n, err := db.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = db.CreateLocal(ctx, &models.Task{Title: "one"})
	require.NoError(t, err)
	_, err = db.Enqueue(ctx, "other", models.OpDelete, nil)
	require.NoError(t, err)

	n, err = db.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
