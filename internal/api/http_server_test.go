package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/models"
	"tasksync/internal/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSync struct {
	result models.SyncResult
	status *syncer.Status
	err    error
	calls  int
}

func (f *fakeSync) Sync(context.Context) models.SyncResult {
	f.calls++
	return f.result
}

func (f *fakeSync) Status(context.Context) (*syncer.Status, error) {
	return f.status, f.err
}

func newTestServer(t *testing.T, cfg config.APIConfig, svc SyncService) *httptest.Server {
	t.Helper()
	srv := NewHTTPServer(cfg, svc, true, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleSync(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc := &fakeSync{result: models.SyncResult{Success: true, SyncedItems: 3, Errors: []models.SyncError{}}}
		ts := newTestServer(t, config.APIConfig{}, svc)

		resp := do(t, http.MethodPost, ts.URL+"/api/v1/sync", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var got models.SyncResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.True(t, got.Success)
		assert.Equal(t, 3, got.SyncedItems)
		assert.Equal(t, 1, svc.calls)
	})

	t.Run("ItemFailuresStillOK", func(t *testing.T) {
		svc := &fakeSync{result: models.SyncResult{FailedItems: 1, Errors: []models.SyncError{
			{TaskID: "t1", Operation: "create", Error: "boom"},
		}}}
		ts := newTestServer(t, config.APIConfig{}, svc)

		resp := do(t, http.MethodPost, ts.URL+"/api/v1/sync", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("InProgress", func(t *testing.T) {
		svc := &fakeSync{result: models.SyncResult{Errors: []models.SyncError{
			{Operation: models.CycleOperationInProgress, Error: "sync cycle already in progress"},
		}}}
		ts := newTestServer(t, config.APIConfig{}, svc)

		resp := do(t, http.MethodPost, ts.URL+"/api/v1/sync", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var got models.SyncResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Len(t, got.Errors, 1)
		assert.Equal(t, models.CycleOperationInProgress, got.Errors[0].Operation)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		svc := &fakeSync{}
		ts := newTestServer(t, config.APIConfig{}, svc)

		resp := do(t, http.MethodGet, ts.URL+"/api/v1/sync", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Zero(t, svc.calls)
	})
}

func TestHandleStatus(t *testing.T) {
	synced := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &fakeSync{status: &syncer.Status{
		State:        syncer.StateCompleted,
		Pending:      4,
		DeadLetters:  1,
		LastSyncedAt: &synced,
	}}
	ts := newTestServer(t, config.APIConfig{}, svc)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "completed", body["state"])
	assert.EqualValues(t, 4, body["pending"])
	assert.EqualValues(t, 1, body["dead_letters"])
	assert.Equal(t, "2024-01-02T03:04:05Z", body["last_synced_at"])

	t.Run("StoreError", func(t *testing.T) {
		ts := newTestServer(t, config.APIConfig{}, &fakeSync{err: assert.AnError})
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/sync/status", nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	cfg := config.APIConfig{Auth: config.APIAuthConfig{Enabled: true}}
	ts := newTestServer(t, cfg, &fakeSync{})

	resp := do(t, http.MethodGet, ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)

	resp = do(t, http.MethodGet, ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, config.APIConfig{}, &fakeSync{})

	resp := do(t, http.MethodGet, ts.URL+"/health", map[string]string{"X-Request-ID": "req-1"})
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))

	resp = do(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/api/v1/sync", routeLabel("/api/v1/sync"))
	assert.Equal(t, "other", routeLabel("/api/v1/sync/../../etc/passwd"))
	assert.Equal(t, "/health", routeLabel("/health"))
}
