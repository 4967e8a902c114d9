package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/j0ons/SafeNest/internal/block"
)

// WatcherAPI provides HTTP endpoints for the log watcher service
type WatcherAPI struct {
	registry *block.Registry
}

// NewWatcherAPI creates a new watcher HTTP API instance
func NewWatcherAPI(registry *block.Registry) *WatcherAPI {
	return &WatcherAPI{registry: registry}
}

// SetupRoutes configures HTTP routes
func (api *WatcherAPI) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/blocks", api.handleBlocks)
	mux.HandleFunc("/blocks/", api.handleBlockByAddress)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", api.handleHealth)
	mux.HandleFunc("/readyz", api.handleReady)
}

// handleBlocks handles GET /blocks
func (api *WatcherAPI) handleBlocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := api.registry.List()

	writeJSON(w, map[string]interface{}{
		"blocks":    entries,
		"count":     len(entries),
		"timestamp": time.Now().UTC(),
	})
}

// handleBlockByAddress handles DELETE /blocks/<address>, the operator action
// that clears a block entry. The firewall rule itself is operator-managed;
// the registry drop lets the address re-trigger if it misbehaves again.
func (api *WatcherAPI) handleBlockByAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	address := strings.TrimPrefix(r.URL.Path, "/blocks/")
	if address == "" {
		http.Error(w, "Address required", http.StatusBadRequest)
		return
	}

	if !api.registry.Remove(address) {
		http.Error(w, "Address not blocked", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"removed":   address,
		"timestamp": time.Now().UTC(),
	})
}

// handleHealth handles GET /healthz
func (api *WatcherAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":          "healthy",
		"blocked_entries": api.registry.Len(),
		"timestamp":       time.Now().UTC(),
	})
}

// handleReady handles GET /readyz
func (api *WatcherAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status": "ready",
	})
}
