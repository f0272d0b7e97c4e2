package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"tasksync/internal/domain"
	"tasksync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleItemClient_SendBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var task models.Task
			require.NoError(t, json.NewDecoder(r.Body).Decode(&task))
			task.ID = "srv-" + task.ID
			_ = json.NewEncoder(w).Encode(task)
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"title too long"}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	single := NewSingleItemClient(client)

	items := []domain.BatchItem{
		{ID: "e1", TaskID: "t1", Operation: models.OpCreate, Data: json.RawMessage(`{"id":"t1","title":"a"}`)},
		{ID: "e2", TaskID: "t2", Operation: models.OpUpdate, Data: json.RawMessage(`{"id":"t2","title":"b"}`)},
		{ID: "e3", TaskID: "t3", Operation: models.OpDelete, Data: json.RawMessage(`{"id":"t3"}`)},
		{ID: "e4", TaskID: "t4", Operation: models.OpCreate, Data: json.RawMessage(`not json`)},
	}

	res, err := single.SendBatch(context.Background(), items, "ignored")
	require.NoError(t, err)
	require.Len(t, res.Results, 4)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.SyncedItems)
	assert.Equal(t, 3, res.FailedItems)

	assert.True(t, res.Results[0].Success)
	assert.Equal(t, "t1", res.Results[0].TaskID)
	var created models.Task
	require.NoError(t, json.Unmarshal(res.Results[0].Data, &created))
	assert.Equal(t, "srv-t1", created.ID)

	assert.False(t, res.Results[1].Success)
	assert.Equal(t, CodeValidation, res.Results[1].Code)

	assert.False(t, res.Results[2].Success)
	assert.Empty(t, res.Results[2].Code)

	assert.Equal(t, CodeValidation, res.Results[3].Code)
}

func TestSingleItemClient_Cancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	single := NewSingleItemClient(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := single.SendBatch(ctx, []domain.BatchItem{{ID: "e1", TaskID: "t1", Operation: models.OpCreate, Data: json.RawMessage(`{}`)}}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSingleItemClient_AddressesByCurrentServerID(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodPut {
			_, _ = w.Write([]byte(`{"id":"srv-1"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	single := NewSingleItemClient(client)

	// snapshots queued before the create was confirmed carry no server id
	items := []domain.BatchItem{
		{ID: "e2", TaskID: "t1", Operation: models.OpUpdate, Data: json.RawMessage(`{"id":"t1","title":"b"}`), ServerID: "srv-1"},
		{ID: "e3", TaskID: "t1", Operation: models.OpDelete, Data: json.RawMessage(`{"id":"t1"}`), ServerID: "srv-1"},
		{ID: "e4", TaskID: "t2", Operation: models.OpDelete, Data: json.RawMessage(`{"id":"t2"}`)},
	}

	res, err := single.SendBatch(context.Background(), items, "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"PUT /api/v1/tasks/srv-1",
		"DELETE /api/v1/tasks/srv-1",
		"DELETE /api/v1/tasks/t2",
	}, paths)
}
