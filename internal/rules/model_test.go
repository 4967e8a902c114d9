package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/j0ons/SafeNest/internal/model"
)

func validRule() Rule {
	return Rule{
		ID:              "dos-flood",
		Kind:            KindRateThreshold,
		Enabled:         true,
		Match:           Match{Topic: "#"},
		GroupBy:         GroupByTopic,
		Threshold:       50,
		WindowSeconds:   5,
		CooldownSeconds: 10,
		Severity:        model.SeverityCritical,
		EventType:       "DOS_ATTACK_DETECTED",
	}
}

func TestRule_Validate(t *testing.T) {
	r := validRule()
	assert.NoError(t, r.Validate())

	tests := []struct {
		name   string
		mutate func(*Rule)
		field  string
	}{
		{"missing id", func(r *Rule) { r.ID = "" }, "id"},
		{"unknown kind", func(r *Rule) { r.Kind = "pattern" }, "kind"},
		{"missing event type", func(r *Rule) { r.EventType = "" }, "event_type"},
		{"bad severity", func(r *Rule) { r.Severity = "INFO" }, "severity"},
		{"missing group_by", func(r *Rule) { r.GroupBy = "" }, "group_by"},
		{"unknown group_by", func(r *Rule) { r.GroupBy = "client" }, "group_by"},
		{"zero threshold", func(r *Rule) { r.Threshold = 0 }, "threshold"},
		{"zero window", func(r *Rule) { r.WindowSeconds = 0 }, "window_seconds"},
		{"negative cooldown", func(r *Rule) { r.CooldownSeconds = -1 }, "cooldown_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(&r)

			err := r.Validate()
			assert.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRule_Validate_SingleEvent(t *testing.T) {
	r := validRule()
	r.Kind = KindSingleEvent
	r.Threshold = 0
	r.WindowSeconds = 0
	assert.NoError(t, r.Validate())

	// single_event does not accumulate, so a threshold makes no sense
	r.Threshold = 5
	assert.Error(t, r.Validate())
}

func TestRule_MatchesKind(t *testing.T) {
	r := validRule()

	// No event_kinds means plain messages only
	assert.True(t, r.MatchesKind(model.KindMessage))
	assert.False(t, r.MatchesKind(model.KindConnect))

	r.EventKinds = []model.EventKind{model.KindConnect, model.KindDisconnect}
	assert.True(t, r.MatchesKind(model.KindConnect))
	assert.False(t, r.MatchesKind(model.KindMessage))

	// acl_denial rules are bound to denial events regardless of event_kinds
	acl := validRule()
	acl.Kind = KindACLDenial
	acl.Threshold = 1
	assert.True(t, acl.MatchesKind(model.KindACLDenial))
	assert.False(t, acl.MatchesKind(model.KindMessage))
}

func TestMatch_Matches(t *testing.T) {
	m := Match{Topic: "safenest/+/state"}
	assert.True(t, m.Matches("safenest/motion/state", "motion_detected"))
	assert.False(t, m.Matches("safenest/motion/command", "on"))

	m = Match{Topic: "safenest/motion/state", PayloadEquals: "motion_detected"}
	assert.True(t, m.Matches("safenest/motion/state", "motion_detected"))
	assert.False(t, m.Matches("safenest/motion/state", "clear"))

	// not_topics carves exclusions out of a broad filter
	m = Match{NotTopics: []string{"safenest/#", "$SYS/#"}}
	assert.True(t, m.Matches("rogue/probe", ""))
	assert.False(t, m.Matches("safenest/motion/state", ""))
	assert.False(t, m.Matches("$SYS/broker/log/N", ""))

	// Empty match passes everything
	m = Match{}
	assert.True(t, m.Matches("any/topic", "any payload"))
}
