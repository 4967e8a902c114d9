package block

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/j0ons/SafeNest/internal/model"
)

// Registry tracks which addresses are currently blocked, when, and why. It
// is the watcher's idempotence source of truth: a repeat trigger for a known
// address updates LastSeenAt and issues no new enforcement call. Entries are
// permanent until explicit operator action; the firewall remains the
// eventually-consistent source of truth and Reconcile resolves drift.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*model.BlockEntry
	statePath string
	logger    *slog.Logger
}

type stateFile struct {
	Entries []*model.BlockEntry `json:"entries"`
}

// NewRegistry creates a block registry. If statePath is non-empty, existing
// state is loaded and every mutation is persisted so restarts do not re-issue
// firewall commands.
func NewRegistry(statePath string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		entries:   make(map[string]*model.BlockEntry),
		statePath: statePath,
		logger:    logger,
	}

	if statePath != "" {
		if err := r.load(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// IsBlocked reports whether the address has a block entry
func (r *Registry) IsBlocked(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[address]
	return ok
}

// RecordBlock records a block for an address. Idempotent: a repeat call for
// an already-present address only refreshes LastSeenAt.
func (r *Registry) RecordBlock(address, reason, source string, at time.Time) *model.BlockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[address]; ok {
		entry.LastSeenAt = at
		r.persistLocked()
		return entry
	}

	entry := &model.BlockEntry{
		Address:    address,
		Reason:     reason,
		BlockedAt:  at,
		LastSeenAt: at,
		Source:     source,
	}
	r.entries[address] = entry
	r.persistLocked()

	return entry
}

// Touch refreshes LastSeenAt for an already-blocked address
func (r *Registry) Touch(address string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[address]; ok {
		entry.LastSeenAt = at
		r.persistLocked()
	}
}

// Remove drops an entry (operator action)
func (r *Registry) Remove(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[address]; !ok {
		return false
	}
	delete(r.entries, address)
	r.persistLocked()
	return true
}

// List returns all current block entries, ordered by address
func (r *Registry) List() []*model.BlockEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*model.BlockEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		copied := *entry
		entries = append(entries, &copied)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})

	return entries
}

// Len returns the number of blocked addresses
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reconcile drops entries whose firewall rule is gone, so a manually
// unblocked address is not permanently remembered as blocked. Probe errors
// keep the entry: better a stale entry than a duplicate insert storm.
func (r *Registry) Reconcile(fw Firewall) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for address := range r.entries {
		blocked, err := fw.IsBlocked(address)
		if err != nil {
			r.logger.Warn("Could not verify firewall state", "address", address, "error", err)
			continue
		}
		if !blocked {
			r.logger.Info("Dropping stale block entry, firewall rule gone", "address", address)
			delete(r.entries, address)
		}
	}
	r.persistLocked()
}

// load reads persisted state; a missing file is a clean start
func (r *Registry) load() error {
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read registry state: %w", err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("failed to parse registry state: %w", err)
	}

	for _, entry := range sf.Entries {
		if entry != nil && entry.Address != "" {
			r.entries[entry.Address] = entry
		}
	}

	r.logger.Info("Block registry state loaded", "entries", len(r.entries), "path", r.statePath)
	return nil
}

// persistLocked writes state atomically (temp file + rename). Caller holds
// the write lock. Persistence failure is logged, never fatal: the registry
// still protects the current process.
func (r *Registry) persistLocked() {
	if r.statePath == "" {
		return
	}

	sf := stateFile{Entries: make([]*model.BlockEntry, 0, len(r.entries))}
	for _, entry := range r.entries {
		sf.Entries = append(sf.Entries, entry)
	}
	sort.Slice(sf.Entries, func(i, j int) bool {
		return sf.Entries[i].Address < sf.Entries[j].Address
	})

	data, err := json.MarshalIndent(&sf, "", "  ")
	if err != nil {
		r.logger.Error("Failed to marshal registry state", "error", err)
		return
	}

	tmp := r.statePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.statePath), 0o755); err != nil {
		r.logger.Error("Failed to create registry state directory", "error", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		r.logger.Error("Failed to write registry state", "error", err)
		return
	}
	if err := os.Rename(tmp, r.statePath); err != nil {
		r.logger.Error("Failed to replace registry state", "error", err)
	}
}
