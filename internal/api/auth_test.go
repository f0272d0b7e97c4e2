package api

import (
	"net/http"
	"testing"

	"tasksync/internal/config"
	"tasksync/internal/models"
	"tasksync/internal/syncer"

	"github.com/stretchr/testify/assert"
)

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "ops", Extra: "ops-extra", Name: "operator"},
				{Key: "dash", Extra: "dash-extra", Name: "dashboard", Permissions: []string{permSyncRead}},
			},
		},
	}
}

func TestHTTPAuth(t *testing.T) {
	svc := &fakeSync{status: &syncer.Status{}, result: models.SyncResult{Success: true}}
	ts := newTestServer(t, authConfig(), svc)

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{"missing headers", http.MethodPost, "/api/v1/sync", nil, http.StatusUnauthorized},
		{"missing extra", http.MethodPost, "/api/v1/sync", map[string]string{"x-api-key": "ops"}, http.StatusUnauthorized},
		{"unknown key", http.MethodPost, "/api/v1/sync", map[string]string{"x-api-key": "nope", "x-api-extra": "x"}, http.StatusUnauthorized},
		{"wrong extra", http.MethodPost, "/api/v1/sync", map[string]string{"x-api-key": "ops", "x-api-extra": "bad"}, http.StatusUnauthorized},
		{"allow-all key runs sync", http.MethodPost, "/api/v1/sync", map[string]string{"x-api-key": "ops", "x-api-extra": "ops-extra"}, http.StatusOK},
		{"read-only key cannot run sync", http.MethodPost, "/api/v1/sync", map[string]string{"x-api-key": "dash", "x-api-extra": "dash-extra"}, http.StatusForbidden},
		{"read-only key reads status", http.MethodGet, "/api/v1/sync/status", map[string]string{"x-api-key": "dash", "x-api-extra": "dash-extra"}, http.StatusOK},
		{"health is public", http.MethodGet, "/health", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.headers)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHTTPAuth_CustomHeaders(t *testing.T) {
	cfg := authConfig()
	cfg.Auth.HeaderAPIKey = "X-Key"
	cfg.Auth.HeaderExtra = "X-Secret"
	ts := newTestServer(t, cfg, &fakeSync{status: &syncer.Status{}})

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/sync/status", map[string]string{"X-Key": "ops", "X-Secret": "ops-extra"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/sync/status", map[string]string{"x-api-key": "ops", "x-api-extra": "ops-extra"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPAuth_RateLimitPerKey(t *testing.T) {
	cfg := authConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	ts := newTestServer(t, cfg, &fakeSync{status: &syncer.Status{}})

	ops := map[string]string{"x-api-key": "ops", "x-api-extra": "ops-extra"}
	dash := map[string]string{"x-api-key": "dash", "x-api-extra": "dash-extra"}

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/sync/status", ops).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/sync/status", ops).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, do(t, http.MethodGet, ts.URL+"/api/v1/sync/status", ops).StatusCode)

	// a separate bucket per key
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/sync/status", dash).StatusCode)

	// health stays reachable
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", nil).StatusCode)
}

func TestCheckPermissions(t *testing.T) {
	open := config.APIClientKey{Key: "k"}
	scoped := config.APIClientKey{Key: "k", Permissions: []string{" sync:read "}}

	assert.NoError(t, checkPermissions(open, permSyncRun))
	assert.NoError(t, checkPermissions(scoped, permSyncRead))
	assert.NoError(t, checkPermissions(scoped, ""))
	assert.ErrorIs(t, checkPermissions(scoped, permSyncRun), errPermissionDenied)
}
