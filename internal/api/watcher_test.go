package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j0ons/SafeNest/internal/block"
)

func newWatcherServer(t *testing.T) (*httptest.Server, *block.Registry) {
	t.Helper()

	registry, err := block.NewRegistry("", testLogger())
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewWatcherAPI(registry).SetupRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, registry
}

func TestWatcherAPI_Blocks(t *testing.T) {
	srv, registry := newWatcherServer(t)

	registry.RecordBlock("203.0.113.9", "DoS attack detected", "logwatcher", time.Now())

	code, body := getJSON(t, srv.URL+"/blocks")
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["count"])

	blocks := body["blocks"].([]interface{})
	entry := blocks[0].(map[string]interface{})
	assert.Equal(t, "203.0.113.9", entry["address"])
	assert.Equal(t, "DoS attack detected", entry["reason"])
}

func TestWatcherAPI_Unblock(t *testing.T) {
	srv, registry := newWatcherServer(t)
	registry.RecordBlock("203.0.113.9", "reason", "logwatcher", time.Now())

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/blocks/203.0.113.9", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, registry.IsBlocked("203.0.113.9"))
}

func TestWatcherAPI_UnblockUnknownAddress(t *testing.T) {
	srv, _ := newWatcherServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/blocks/198.51.100.1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWatcherAPI_Health(t *testing.T) {
	srv, registry := newWatcherServer(t)
	registry.RecordBlock("203.0.113.9", "reason", "logwatcher", time.Now())

	code, body := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["blocked_entries"])
}
