package seclog

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j0ons/SafeNest/internal/model"
)

func TestWriter_WriteAlert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.log")

	w, err := NewWriter(path, "safenest_detector")
	require.NoError(t, err)
	defer w.Close()

	alert := &model.Alert{
		ID:            "a-1",
		Severity:      model.SeverityCritical,
		EventType:     "DOS_ATTACK_DETECTED",
		RuleID:        "dos-flood",
		GroupingKey:   "safenest/motion/state",
		Topic:         "safenest/motion/state",
		SourceAddress: "203.0.113.9",
		ObservedCount: 52,
		WindowSeconds: 5,
		Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Message:       "DOS_ATTACK_DETECTED on topic safenest/motion/state: 52 messages within 5s",
	}
	require.NoError(t, w.WriteAlert(alert))

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	ll, err := ParseLine([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL", ll.Level)
	assert.Equal(t, "safenest_detector", ll.Logger)
	assert.Equal(t, "DOS_ATTACK_DETECTED", ll.EventType)
	assert.Equal(t, model.SeverityCritical, ll.Severity)
	assert.Equal(t, "dos-flood", ll.RuleID)
	assert.Equal(t, "safenest/motion/state", ll.Topic)
	assert.Equal(t, "203.0.113.9", ll.SourceAddress)
	assert.Equal(t, 52, ll.ObservedCount)
	assert.Equal(t, 5, ll.WindowSeconds)
	assert.Equal(t, alert.Timestamp, ll.Timestamp)
}

func TestWriter_WriteEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.log")

	w, err := NewWriter(path, "safenest_detector")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteEvent("AUTH_FAILURE", model.SeverityWarning,
		"authentication failed for client from 203.0.113.9", "203.0.113.9"))

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	ll, err := ParseLine([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, "WARNING", ll.Level)
	assert.Equal(t, "AUTH_FAILURE", ll.EventType)
	assert.Equal(t, "203.0.113.9", ll.SourceAddress)
}

func TestWriter_AppendsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.log")

	w1, err := NewWriter(path, "detector")
	require.NoError(t, err)
	require.NoError(t, w1.WriteEvent("E1", model.SeverityWarning, "first", ""))
	require.NoError(t, w1.Close())

	// A restart must append, not truncate
	w2, err := NewWriter(path, "detector")
	require.NoError(t, err)
	require.NoError(t, w2.WriteEvent("E2", model.SeverityWarning, "second", ""))
	require.NoError(t, w2.Close())

	assert.Len(t, readLines(t, path), 2)
}

func TestWriter_FollowsRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.log")

	w, err := NewWriter(path, "detector")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteEvent("E1", model.SeverityWarning, "before rotation", ""))

	// logrotate-style rename; the next append must land in the replacement,
	// not the rotated-away inode
	rotated := filepath.Join(dir, "security.log.1")
	require.NoError(t, os.Rename(path, rotated))

	require.NoError(t, w.WriteEvent("E2", model.SeverityWarning, "after rotation", ""))

	newLines := readLines(t, path)
	require.Len(t, newLines, 1)
	ll, err := ParseLine([]byte(newLines[0]))
	require.NoError(t, err)
	assert.Equal(t, "E2", ll.EventType)

	oldLines := readLines(t, rotated)
	require.Len(t, oldLines, 1)
}

func TestNewWriter_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "security.log")

	w, err := NewWriter(path, "detector")
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, path, w.Path())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestParseLine_RejectsFreeText(t *testing.T) {
	_, err := ParseLine([]byte("1717243200: New connection from 203.0.113.9 on port 1883."))
	assert.Error(t, err)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}
