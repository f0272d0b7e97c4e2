package repository

import (
	"context"
	"testing"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeadLetterMirror(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()

	mirror := NewRedisDeadLetterMirror(client, "tasksync:deadletter")
	ctx := context.Background()

	t.Run("PushAndRecent", func(t *testing.T) {
		first := &models.DeadLetter{ID: "dl-1", TaskID: "t1", Operation: models.OpCreate, Payload: []byte(`{"a":1}`), Attempts: 3}
		second := &models.DeadLetter{ID: "dl-2", TaskID: "t2", Operation: models.OpDelete, Payload: []byte(`null`), Attempts: 1}
		require.NoError(t, mirror.Push(ctx, first))
		require.NoError(t, mirror.Push(ctx, second))

		items, err := s.List("tasksync:deadletter")
		require.NoError(t, err)
		assert.Len(t, items, 2)

		recent, err := mirror.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "dl-2", recent[0].ID)
		assert.Equal(t, models.OpDelete, recent[0].Operation)
		assert.JSONEq(t, `{"a":1}`, string(recent[1].Payload))

		one, err := mirror.Recent(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, one, 1)

		all, err := mirror.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("NilDeadLetter", func(t *testing.T) {
		assert.Error(t, mirror.Push(ctx, nil))
	})

	t.Run("NilClient", func(t *testing.T) {
		m := NewRedisDeadLetterMirror(nil, "k")
		err := m.Push(ctx, &models.DeadLetter{ID: "x"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})
}

func TestRedisRunLock(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	ctx := context.Background()
	a := NewRedisRunLock(client, "tasksync:cycle_lock", time.Minute)
	b := NewRedisRunLock(client, "tasksync:cycle_lock", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected")

	// releasing with a foreign token leaves the lock in place
	require.NoError(t, b.Unlock(ctx))
	assert.True(t, s.Exists("tasksync:cycle_lock"))

	require.NoError(t, a.Unlock(ctx))
	assert.False(t, s.Exists("tasksync:cycle_lock"))

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("ExpiresAfterTTL", func(t *testing.T) {
		s.FastForward(time.Minute + time.Second)
		ok, err := a.TryLock(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ServerDown", func(t *testing.T) {
		s.Close()
		_, err := a.TryLock(ctx)
		assert.Error(t, err)
	})
}

func TestClose(t *testing.T) {
	assert.NoError(t, Close(nil))
}
