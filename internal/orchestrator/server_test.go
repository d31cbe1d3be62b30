package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrarejimmyz/zkvanguard/internal/guard"
	"github.com/mrarejimmyz/zkvanguard/pkg/ledger"
)

func setupTestServer(t *testing.T) (*httptest.Server, *guard.Guard) {
	t.Helper()

	g, err := guard.NewGuard(guard.DefaultLimits())
	require.NoError(t, err)

	srv := httptest.NewServer(NewAdminServer(g, nil, "").Handler())
	t.Cleanup(srv.Close)
	return srv, g
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestAdminServer_Health(t *testing.T) {
	srv, _ := setupTestServer(t)

	var health HealthResponse
	resp := getJSON(t, srv.URL+"/healthz", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)
}

func TestAdminServer_Status(t *testing.T) {
	srv, g := setupTestServer(t)
	g.AddVolume(250_000)

	var status guard.Status
	resp := getJSON(t, srv.URL+"/status", &status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 250_000.0, status.DailyVolumeUSD)
	assert.False(t, status.Breaker.IsOpen)
	assert.Equal(t, guard.DefaultLimits(), status.Limits)
}

func TestAdminServer_Audit(t *testing.T) {
	srv, g := setupTestServer(t)

	execA := uuid.New().String()
	execB := uuid.New().String()
	_, err := g.StartExecution(context.Background(), execA, "agent-1", "open_position", false, nil, nil)
	require.NoError(t, err)
	_, err = g.StartExecution(context.Background(), execB, "agent-2", "rebalance", false, nil, nil)
	require.NoError(t, err)

	var entries []*ledger.Entry
	resp := getJSON(t, srv.URL+"/audit?agent_id=agent-2", &entries)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries, 1)
	assert.Equal(t, "rebalance", entries[0].Action)

	resp = getJSON(t, srv.URL+"/audit", &entries)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, entries, 2)

	resp = getJSON(t, srv.URL+"/audit?since_ms=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminServer_Halt(t *testing.T) {
	srv, g := setupTestServer(t)

	resp, err := http.Post(srv.URL+"/halt", "application/json",
		strings.NewReader(`{"reason":"operator intervention"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, g.Breaker().IsOpen)

	// Reason is mandatory.
	resp, err = http.Post(srv.URL+"/halt", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminServer_Resume(t *testing.T) {
	srv, g := setupTestServer(t)

	resp, err := http.Post(srv.URL+"/halt", "application/json",
		strings.NewReader(`{"reason":"operator intervention"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.True(t, g.Breaker().IsOpen)

	resp, err = http.Post(srv.URL+"/resume", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, g.Breaker().IsOpen)

	resp, err = http.Get(srv.URL + "/resume")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAdminServer_Execute(t *testing.T) {
	// Without an engine wired, intent submission is unavailable.
	srv, _ := setupTestServer(t)
	resp, err := http.Post(srv.URL+"/execute", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	engine, g, _, _ := setupTestEngine(t)
	admin := NewAdminServer(g, nil, "")
	admin.SetEngine(engine)
	srv = httptest.NewServer(admin.Handler())
	t.Cleanup(srv.Close)

	body, err := json.Marshal(analysisIntent())
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/execute", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, StatusSuccess, report.Status)
	assert.NotEmpty(t, report.ExecutionID)

	badResp, err := http.Post(srv.URL+"/execute", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	badResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}

func TestAdminServer_Limits(t *testing.T) {
	srv, g := setupTestServer(t)

	var current guard.Limits
	resp := getJSON(t, srv.URL+"/limits", &current)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, guard.DefaultLimits(), current)

	updated := guard.DefaultLimits()
	updated.MaxPositionSizeUSD = 1_000_000
	body, err := json.Marshal(updated)
	require.NoError(t, err)

	resp, err = http.Post(srv.URL+"/limits", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, updated, g.Limits())

	// Invalid replacements are rejected wholesale.
	bad := guard.DefaultLimits()
	bad.MaxConcurrent = 0
	body, err = json.Marshal(bad)
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/limits", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, updated, g.Limits())
}

func TestAdminServer_MethodGuards(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/halt")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}