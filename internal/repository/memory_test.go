package repository

import (
	"context"
	"testing"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ domain.SyncStore = (*MemoryStore)(nil)

func TestMemoryStore_TaskLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	task, err := s.CreateLocal(ctx, &models.Task{Title: "a"})
	require.NoError(t, err)

	title := "b"
	updated, err := s.UpdateLocal(ctx, task.ID, models.TaskPatch{Title: &title})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "b", updated.Title)

	ok, err := s.SoftDeleteLocal(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := s.ListEntries(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []models.Operation{models.OpCreate, models.OpUpdate, models.OpDelete},
		[]models.Operation{entries[0].Operation, entries[1].Operation, entries[2].Operation})

	live, err := s.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	for _, e := range entries {
		require.NoError(t, s.ConfirmEntry(ctx, e, models.Confirmation{ServerID: "srv"}))
	}
	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestMemoryStore_DequeueHidesBlockedTask(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	stuck, err := s.Enqueue(ctx, "a", models.OpCreate, nil)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "a", models.OpUpdate, nil)
	require.NoError(t, err)
	other, err := s.Enqueue(ctx, "b", models.OpCreate, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.RecordFailure(ctx, stuck, "boom")
		require.NoError(t, err)
	}

	eligible, err := s.DequeueEligible(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, other, eligible[0].ID)
}

func TestMemoryStore_Outcomes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	task, err := s.CreateLocal(ctx, &models.Task{Title: "x"})
	require.NoError(t, err)
	entries, err := s.ListEntries(ctx, task.ID)
	require.NoError(t, err)
	entry := entries[0]

	attempts, err := s.RetryEntry(ctx, entry, "503")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	stored, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, stored.SyncStatus)

	dl, err := s.DeadLetterEntry(ctx, entry, "gave up", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, dl.Attempts)

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, stored.SyncStatus)

	newID, err := s.Requeue(ctx, dl.ID)
	require.NoError(t, err)
	requeued, err := s.GetEntry(ctx, newID)
	require.NoError(t, err)
	assert.Zero(t, requeued.Attempts)

	count, err := s.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, s.DropEntry(ctx, *requeued, "test"))
	assert.ErrorIs(t, s.DropEntry(ctx, *requeued, "test"), domain.ErrEntryNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "t", models.OpUpdate, []byte(`{"a":1}`))
	require.NoError(t, err)

	e, err := s.GetEntry(ctx, id)
	require.NoError(t, err)
	e.Attempts = 99
	e.Payload[0] = 'X'

	again, err := s.GetEntry(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, again.Attempts)
	assert.JSONEq(t, `{"a":1}`, string(again.Payload))
}
