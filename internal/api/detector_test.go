package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j0ons/SafeNest/internal/model"
	"github.com/j0ons/SafeNest/internal/rules"
	"github.com/j0ons/SafeNest/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newDetectorServer(t *testing.T, ready func() bool) (*httptest.Server, *store.AlertStore) {
	t.Helper()

	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "rule.yaml"), []byte(`
id: dos-flood
kind: rate_threshold
enabled: true
group_by: topic
threshold: 50
window_seconds: 5
cooldown_seconds: 10
severity: CRITICAL
event_type: DOS_ATTACK_DETECTED
`), 0o644))

	loader := rules.NewLoader(tempDir, false, 1000, testLogger())
	_, err := loader.LoadSnapshot()
	require.NoError(t, err)

	alertStore := store.NewAlertStore(100)

	mux := http.NewServeMux()
	NewDetectorAPI(alertStore, loader, ready).SetupRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, alertStore
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestDetectorAPI_Alerts(t *testing.T) {
	srv, alertStore := newDetectorServer(t, nil)

	alertStore.Add(&model.Alert{ID: "w-1", Severity: model.SeverityWarning})
	alertStore.Add(&model.Alert{ID: "c-1", Severity: model.SeverityCritical})
	alertStore.Add(&model.Alert{ID: "c-2", Severity: model.SeverityCritical})

	code, body := getJSON(t, srv.URL+"/alerts")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["count"])

	code, body = getJSON(t, srv.URL+"/alerts?severity=CRITICAL")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])

	// Limit keeps the most recent alerts
	code, body = getJSON(t, srv.URL+"/alerts?limit=1")
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["count"])
	alerts := body["alerts"].([]interface{})
	assert.Equal(t, "c-2", alerts[0].(map[string]interface{})["id"])
}

func TestDetectorAPI_Rules(t *testing.T) {
	srv, _ := newDetectorServer(t, nil)

	code, body := getJSON(t, srv.URL+"/rules")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	ruleList := body["rules"].([]interface{})
	assert.Equal(t, "dos-flood", ruleList[0].(map[string]interface{})["id"])
}

func TestDetectorAPI_Health(t *testing.T) {
	srv, _ := newDetectorServer(t, nil)

	code, body := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestDetectorAPI_Readiness(t *testing.T) {
	ready := false
	srv, _ := newDetectorServer(t, func() bool { return ready })

	code, body := getJSON(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", body["status"])

	ready = true
	code, body = getJSON(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestDetectorAPI_MethodNotAllowed(t *testing.T) {
	srv, _ := newDetectorServer(t, nil)

	resp, err := http.Post(srv.URL+"/alerts", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
