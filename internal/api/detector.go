package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/j0ons/SafeNest/internal/model"
	"github.com/j0ons/SafeNest/internal/rules"
	"github.com/j0ons/SafeNest/internal/store"
)

// DetectorAPI provides HTTP endpoints for the detection engine service
type DetectorAPI struct {
	store  *store.AlertStore
	loader *rules.Loader
	ready  func() bool
}

// NewDetectorAPI creates a new detector HTTP API instance
func NewDetectorAPI(store *store.AlertStore, loader *rules.Loader, ready func() bool) *DetectorAPI {
	return &DetectorAPI{
		store:  store,
		loader: loader,
		ready:  ready,
	}
}

// SetupRoutes configures HTTP routes
func (api *DetectorAPI) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/alerts", api.handleAlerts)
	mux.HandleFunc("/rules", api.handleRules)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", api.handleHealth)
	mux.HandleFunc("/readyz", api.handleReady)
}

// handleAlerts handles GET /alerts with optional severity and limit parameters
func (api *DetectorAPI) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var alerts []*model.Alert

	severity := r.URL.Query().Get("severity")
	limitStr := r.URL.Query().Get("limit")

	if severity != "" {
		alerts = api.store.GetAlertsBySeverity(model.Severity(severity))
	} else {
		alerts = api.store.GetAlerts()
	}

	if limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < len(alerts) {
			alerts = alerts[len(alerts)-limit:]
		}
	}

	writeJSON(w, map[string]interface{}{
		"alerts":    alerts,
		"count":     len(alerts),
		"timestamp": time.Now().UTC(),
	})
}

// handleRules handles GET /rules
func (api *DetectorAPI) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := api.loader.GetSnapshot()

	writeJSON(w, map[string]interface{}{
		"rules":   snapshot.Rules,
		"count":   len(snapshot.Rules),
		"version": snapshot.Version,
	})
}

// handleHealth handles GET /healthz
func (api *DetectorAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"stats":     api.store.Stats(),
	})
}

// handleReady handles GET /readyz; not ready while disconnected from the bus
func (api *DetectorAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if api.ready != nil && !api.ready() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "not ready",
		})
		return
	}

	writeJSON(w, map[string]interface{}{
		"status": "ready",
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
