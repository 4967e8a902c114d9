package model

import (
	"time"
)

// EventKind classifies an observed bus event
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindACLDenial  EventKind = "acl_denial"
	KindConnect    EventKind = "connect"
	KindDisconnect EventKind = "disconnect"
)

// Severity levels for security alerts
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether the severity is one of the known levels
func (s Severity) Valid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// Event represents one observed bus message or broker notification
type Event struct {
	Topic     string    `json:"topic"`
	SourceKey string    `json:"source_key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"kind"`
	SizeBytes int       `json:"size_bytes,omitempty"`
	Payload   string    `json:"payload,omitempty"`
}

// Alert represents a detection result emitted when a rule triggers
type Alert struct {
	ID            string    `json:"id"`
	Severity      Severity  `json:"severity"`
	EventType     string    `json:"event_type"`
	RuleID        string    `json:"rule_id"`
	GroupingKey   string    `json:"grouping_key"`
	Topic         string    `json:"topic,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
	ObservedCount int       `json:"observed_count"`
	WindowSeconds int       `json:"window_seconds"`
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
}

// BlockEntry records that an address has been enforced against at the firewall
type BlockEntry struct {
	Address    string    `json:"address"`
	Reason     string    `json:"reason"`
	BlockedAt  time.Time `json:"blocked_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Source     string    `json:"source"`
}
