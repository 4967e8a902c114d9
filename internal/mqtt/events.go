package mqtt

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/j0ons/SafeNest/internal/model"
)

var (
	newConnectionRe = regexp.MustCompile(`New connection from ([0-9a-fA-F\.:]+?)(?::\d+)? on port`)
	disconnectRe    = regexp.MustCompile(`[Cc]lient (\S+) (?:disconnected|closed its connection)`)
	aclDenyRe       = regexp.MustCompile(`(?i)denied\s+(?:publish|subscribe)|not authori[sz]ed|bad username or password`)
	denyClientRe    = regexp.MustCompile(`(?i)(?:from|client) '?([^\s',]+)'?`)
	addressRe       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// parseEvent converts one inbound publication into an Event. Broker log
// republications become connection/denial events; everything else is an
// observed message. Returns nil for broker log noise with no security
// relevance.
func parseEvent(topic string, payload []byte) *model.Event {
	now := time.Now()

	if strings.HasPrefix(topic, brokerLogPrefix) {
		return parseBrokerLogEvent(topic, string(payload), now)
	}

	return &model.Event{
		Topic:     topic,
		SourceKey: sourceKeyFor(topic, payload),
		Timestamp: now,
		Kind:      model.KindMessage,
		SizeBytes: len(payload),
		Payload:   string(payload),
	}
}

// parseBrokerLogEvent classifies a broker log line republished on $SYS
func parseBrokerLogEvent(topic, line string, now time.Time) *model.Event {
	if m := newConnectionRe.FindStringSubmatch(line); m != nil {
		return &model.Event{
			Topic:     topic,
			SourceKey: m[1],
			Timestamp: now,
			Kind:      model.KindConnect,
			Payload:   line,
		}
	}

	if aclDenyRe.MatchString(line) {
		sourceKey := ""
		if m := addressRe.FindString(line); m != "" {
			sourceKey = m
		} else if m := denyClientRe.FindStringSubmatch(line); m != nil {
			sourceKey = m[1]
		}
		return &model.Event{
			Topic:     topic,
			SourceKey: sourceKey,
			Timestamp: now,
			Kind:      model.KindACLDenial,
			Payload:   line,
		}
	}

	if m := disconnectRe.FindStringSubmatch(line); m != nil {
		return &model.Event{
			Topic:     topic,
			SourceKey: m[1],
			Timestamp: now,
			Kind:      model.KindDisconnect,
			Payload:   line,
		}
	}

	return nil
}

// sourceKeyFor finds the best available source identifier for a message.
// Structured payloads may carry the publisher's address; otherwise the topic
// heuristic maps well-known device topics to their provisioned client users.
func sourceKeyFor(topic string, payload []byte) string {
	if len(payload) > 0 && payload[0] == '{' {
		var fields map[string]interface{}
		if err := json.Unmarshal(payload, &fields); err == nil {
			for _, key := range []string{"source_address", "source_ip", "ip"} {
				if v, ok := fields[key].(string); ok && v != "" {
					return v
				}
			}
		}
	}

	return inferClientFromTopic(topic)
}

// inferClientFromTopic maps topic patterns to the client users provisioned
// for them. Broker logs or client certificates would be authoritative; this
// heuristic covers plain observed traffic.
func inferClientFromTopic(topic string) string {
	switch {
	case strings.Contains(topic, "motion"):
		return "motion_user"
	case strings.Contains(topic, "intercom"):
		return "intercom_user"
	case strings.Contains(topic, "light1"):
		return "light1_user"
	case strings.Contains(topic, "light2"):
		return "light2_user"
	case strings.Contains(topic, "system"), strings.Contains(topic, "alerts"):
		return "controller_user"
	default:
		return ""
	}
}
