// Package seclog implements the append-only structured security log: the
// contract surface between the detection engine and the log watcher. One
// JSON object per line, written by the engine, tailed by the watcher.
package seclog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/j0ons/SafeNest/internal/model"
)

// LogLine is the on-disk representation of an alert or raw significant event
type LogLine struct {
	Timestamp     time.Time      `json:"timestamp"`
	Level         string         `json:"level"`
	Logger        string         `json:"logger"`
	Message       string         `json:"message"`
	EventType     string         `json:"event_type,omitempty"`
	Severity      model.Severity `json:"severity,omitempty"`
	RuleID        string         `json:"rule_id,omitempty"`
	Topic         string         `json:"topic,omitempty"`
	SourceAddress string         `json:"source_address,omitempty"`
	ObservedCount int            `json:"observed_count,omitempty"`
	WindowSeconds int            `json:"window_seconds,omitempty"`
}

// ParseLine parses a structured security log line. Lines that are not JSON
// objects (e.g. raw broker log lines) return an error and are handled by the
// caller's free-text signature matching instead.
func ParseLine(line []byte) (*LogLine, error) {
	var ll LogLine
	if err := json.Unmarshal(line, &ll); err != nil {
		return nil, fmt.Errorf("not a structured log line: %w", err)
	}
	return &ll, nil
}

// Writer appends structured lines to the security log. Each line is written
// with a single Write call so concurrent writers cannot interleave, and the
// file is opened O_APPEND so external rotation does not corrupt offsets.
// Before each write the path is re-checked against the open file, so a
// rename-style rotation moves appends to the replacement instead of the
// rotated-away inode.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	source string
}

// NewWriter opens (creating if needed) the security log for appending
func NewWriter(path, source string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open security log: %w", err)
	}

	return &Writer{f: f, path: path, source: source}, nil
}

// WriteAlert appends one line for an alert
func (w *Writer) WriteAlert(a *model.Alert) error {
	return w.writeLine(&LogLine{
		Timestamp:     a.Timestamp,
		Level:         levelFor(a.Severity),
		Logger:        w.source,
		Message:       a.Message,
		EventType:     a.EventType,
		Severity:      a.Severity,
		RuleID:        a.RuleID,
		Topic:         a.Topic,
		SourceAddress: a.SourceAddress,
		ObservedCount: a.ObservedCount,
		WindowSeconds: a.WindowSeconds,
	})
}

// WriteEvent appends one line for a raw significant event that is not an alert
func (w *Writer) WriteEvent(eventType string, severity model.Severity, message string, sourceAddress string) error {
	return w.writeLine(&LogLine{
		Timestamp:     time.Now().UTC(),
		Level:         levelFor(severity),
		Logger:        w.source,
		Message:       message,
		EventType:     eventType,
		Severity:      severity,
		SourceAddress: sourceAddress,
	})
}

// Close closes the underlying file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Path returns the log file path
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) writeLine(ll *LogLine) error {
	data, err := json.Marshal(ll)
	if err != nil {
		return fmt.Errorf("failed to marshal log line: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	w.reopenIfRotated()

	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("failed to append to security log: %w", err)
	}
	return nil
}

// reopenIfRotated swaps the file handle when the path has been rotated away
// (renamed or removed). Reopen failure keeps the old handle; appending to the
// rotated file beats losing the line. Caller holds w.mu.
func (w *Writer) reopenIfRotated() {
	current, err := w.f.Stat()
	if err != nil {
		return
	}

	onDisk, err := os.Stat(w.path)
	if err == nil && os.SameFile(current, onDisk) {
		return
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}

	w.f.Close()
	w.f = f
}

func levelFor(severity model.Severity) string {
	if severity == model.SeverityCritical {
		return "CRITICAL"
	}
	return "WARNING"
}
