package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tasksync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(os.Stdout)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

// stepClock returns a clock that advances by one millisecond on every call.
func stepClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()

	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_NilLogger(t *testing.T) {
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.PingContext(context.Background()))
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	ctx := context.Background()

	db, err := NewDB(dbPath, nil)
	require.NoError(t, err)
	_, err = db.Enqueue(ctx, "task-1", models.OpCreate, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// schema creation is idempotent and queued entries survive a restart
	db, err = NewDB(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 20, 30, 123456789, time.FixedZone("X", 3*3600))

	parsed, err := parseTime(formatTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))

	_, err = parseTime("not a time")
	assert.Error(t, err)
}
