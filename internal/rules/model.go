package rules

import (
	"time"

	"github.com/j0ons/SafeNest/internal/model"
)

// RuleKind is the closed set of detection rule kinds
type RuleKind string

const (
	// KindRateThreshold triggers when the event count for a grouping key
	// crosses the threshold within the window.
	KindRateThreshold RuleKind = "rate_threshold"
	// KindSingleEvent triggers on every matching event, subject to cooldown.
	KindSingleEvent RuleKind = "single_event"
	// KindACLDenial is a rate rule bound to broker policy-denial events.
	KindACLDenial RuleKind = "acl_denial"
)

// GroupBy selects the identifier over which a rule accumulates events
type GroupBy string

const (
	GroupByTopic       GroupBy = "topic"
	GroupBySource      GroupBy = "source"
	GroupByTopicSource GroupBy = "topic_source"
	GroupByGlobal      GroupBy = "global"
)

// Match restricts which events a rule sees. NotTopics excludes events whose
// topic matches any of the listed filters, which is how an unknown-topic
// rule names the expected hierarchy.
type Match struct {
	Topic         string   `yaml:"topic" json:"topic"`
	NotTopics     []string `yaml:"not_topics" json:"not_topics,omitempty"`
	PayloadEquals string   `yaml:"payload_equals" json:"payload_equals"`
}

// Matches reports whether an event's topic and payload pass the filter
func (m *Match) Matches(topic, payload string) bool {
	if m.Topic != "" && !TopicMatches(m.Topic, topic) {
		return false
	}
	for _, excluded := range m.NotTopics {
		if TopicMatches(excluded, topic) {
			return false
		}
	}
	if m.PayloadEquals != "" && payload != m.PayloadEquals {
		return false
	}
	return true
}

// Rule is a static anomaly-detection definition, loaded from rules.d
type Rule struct {
	ID              string            `yaml:"id" json:"id"`
	Kind            RuleKind          `yaml:"kind" json:"kind"`
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	EventKinds      []model.EventKind `yaml:"event_kinds" json:"event_kinds"`
	Match           Match             `yaml:"match" json:"match"`
	GroupBy         GroupBy           `yaml:"group_by" json:"group_by"`
	Threshold       int               `yaml:"threshold" json:"threshold"`
	WindowSeconds   int               `yaml:"window_seconds" json:"window_seconds"`
	CooldownSeconds int               `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	Severity        model.Severity    `yaml:"severity" json:"severity"`
	EventType       string            `yaml:"event_type" json:"event_type"`
	SourceFile      string            `yaml:"-" json:"source_file,omitempty"`
}

// RuleSnapshot represents a collection of loaded rules
type RuleSnapshot struct {
	Rules   []Rule
	Version int64
}

// Window returns the rule's horizon as a duration
func (r *Rule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Cooldown returns the rule's cooldown as a duration
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// MatchesKind reports whether the rule applies to the event kind.
// acl_denial rules are implicitly bound to policy-denial events.
func (r *Rule) MatchesKind(kind model.EventKind) bool {
	if r.Kind == KindACLDenial {
		return kind == model.KindACLDenial
	}
	if len(r.EventKinds) == 0 {
		return kind == model.KindMessage
	}
	for _, k := range r.EventKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate checks if a rule definition is valid
func (r *Rule) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Message: "rule ID is required"}
	}

	switch r.Kind {
	case KindRateThreshold, KindSingleEvent, KindACLDenial:
	default:
		return &ValidationError{Field: "kind", Message: "kind must be rate_threshold/single_event/acl_denial"}
	}

	if r.EventType == "" {
		return &ValidationError{Field: "event_type", Message: "event type is required"}
	}

	if !r.Severity.Valid() {
		return &ValidationError{Field: "severity", Message: "severity must be WARNING or CRITICAL"}
	}

	switch r.GroupBy {
	case GroupByTopic, GroupBySource, GroupByTopicSource, GroupByGlobal:
	case "":
		return &ValidationError{Field: "group_by", Message: "grouping strategy is required"}
	default:
		return &ValidationError{Field: "group_by", Message: "group_by must be topic/source/topic_source/global"}
	}

	if r.Kind == KindSingleEvent {
		if r.Threshold > 1 {
			return &ValidationError{Field: "threshold", Message: "single_event rules cannot carry a threshold above 1"}
		}
	} else {
		if r.Threshold < 1 {
			return &ValidationError{Field: "threshold", Message: "threshold must be at least 1"}
		}
		if r.WindowSeconds <= 0 {
			return &ValidationError{Field: "window_seconds", Message: "window must be positive"}
		}
	}

	if r.CooldownSeconds < 0 {
		return &ValidationError{Field: "cooldown_seconds", Message: "cooldown cannot be negative"}
	}

	return nil
}

// IsEnabled checks if the rule is enabled
func (r *Rule) IsEnabled() bool {
	return r.Enabled
}

// ValidationError represents a rule validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
