package block

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeFirewall struct {
	blocked  map[string]bool
	probeErr error
}

func (f *fakeFirewall) Block(address string) error {
	if f.blocked == nil {
		f.blocked = make(map[string]bool)
	}
	f.blocked[address] = true
	return nil
}

func (f *fakeFirewall) IsBlocked(address string) (bool, error) {
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.blocked[address], nil
}

func TestRegistry_RecordBlockIdempotent(t *testing.T) {
	r, err := NewRegistry("", testLogger())
	require.NoError(t, err)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := r.RecordBlock("203.0.113.9", "DoS attack detected", "logwatcher", t0)
	require.NotNil(t, entry)
	assert.True(t, r.IsBlocked("203.0.113.9"))
	assert.Equal(t, 1, r.Len())

	// A repeat trigger only refreshes LastSeenAt
	t1 := t0.Add(time.Minute)
	again := r.RecordBlock("203.0.113.9", "other reason", "logwatcher", t1)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "DoS attack detected", again.Reason)
	assert.Equal(t, t0, again.BlockedAt)
	assert.Equal(t, t1, again.LastSeenAt)
}

func TestRegistry_Touch(t *testing.T) {
	r, err := NewRegistry("", testLogger())
	require.NoError(t, err)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.RecordBlock("203.0.113.9", "reason", "logwatcher", t0)

	r.Touch("203.0.113.9", t0.Add(time.Hour))
	assert.Equal(t, t0.Add(time.Hour), r.List()[0].LastSeenAt)

	// Touching an unknown address is a no-op
	r.Touch("198.51.100.1", t0)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Remove(t *testing.T) {
	r, err := NewRegistry("", testLogger())
	require.NoError(t, err)

	r.RecordBlock("203.0.113.9", "reason", "logwatcher", time.Now())

	assert.True(t, r.Remove("203.0.113.9"))
	assert.False(t, r.IsBlocked("203.0.113.9"))
	assert.False(t, r.Remove("203.0.113.9"))
}

func TestRegistry_ListSorted(t *testing.T) {
	r, err := NewRegistry("", testLogger())
	require.NoError(t, err)

	now := time.Now()
	r.RecordBlock("203.0.113.9", "a", "logwatcher", now)
	r.RecordBlock("198.51.100.1", "b", "logwatcher", now)

	entries := r.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "198.51.100.1", entries[0].Address)
	assert.Equal(t, "203.0.113.9", entries[1].Address)

	// List hands out copies, not live registry state
	entries[0].Reason = "mutated"
	assert.Equal(t, "b", r.List()[0].Reason)
}

func TestRegistry_PersistenceRoundtrip(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state", "blocked.json")

	r1, err := NewRegistry(statePath, testLogger())
	require.NoError(t, err)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r1.RecordBlock("203.0.113.9", "DoS attack detected", "logwatcher", t0)

	// A restart loads the same entries and issues no duplicate enforcement
	r2, err := NewRegistry(statePath, testLogger())
	require.NoError(t, err)

	assert.True(t, r2.IsBlocked("203.0.113.9"))
	entries := r2.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "DoS attack detected", entries[0].Reason)
	assert.Equal(t, t0, entries[0].BlockedAt)
}

func TestRegistry_MissingStateFileIsCleanStart(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "blocked.json"), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CorruptStateFileRejected(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "blocked.json")
	require.NoError(t, os.WriteFile(statePath, []byte("not json"), 0o600))

	_, err := NewRegistry(statePath, testLogger())
	assert.Error(t, err)
}

func TestRegistry_Reconcile(t *testing.T) {
	r, err := NewRegistry("", testLogger())
	require.NoError(t, err)

	now := time.Now()
	r.RecordBlock("203.0.113.9", "a", "logwatcher", now)
	r.RecordBlock("198.51.100.1", "b", "logwatcher", now)

	// Only one rule survives in the firewall; the stale entry is dropped so
	// the address can re-trigger
	fw := &fakeFirewall{blocked: map[string]bool{"203.0.113.9": true}}
	r.Reconcile(fw)

	assert.True(t, r.IsBlocked("203.0.113.9"))
	assert.False(t, r.IsBlocked("198.51.100.1"))
}

func TestRegistry_ReconcileKeepsEntriesOnProbeError(t *testing.T) {
	r, err := NewRegistry("", testLogger())
	require.NoError(t, err)

	r.RecordBlock("203.0.113.9", "a", "logwatcher", time.Now())

	r.Reconcile(&fakeFirewall{probeErr: errors.New("iptables unavailable")})
	assert.True(t, r.IsBlocked("203.0.113.9"))
}
