package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"safenest/motion/state", "safenest/motion/state", true},
		{"safenest/motion/state", "safenest/motion/command", false},
		{"safenest/+/state", "safenest/motion/state", true},
		{"safenest/+/state", "safenest/light1/state", true},
		{"safenest/+/state", "safenest/motion/state/extra", false},
		{"safenest/#", "safenest/motion/state", true},
		{"safenest/#", "safenest", false},
		{"#", "anything/at/all", true},
		{"", "anything", true},
		{"+", "single", true},
		{"+", "two/levels", false},
		{"safenest/motion/#", "safenest/motion/state/raw", true},
		{"safenest/motion/#", "safenest/intercom/state", false},
		{"$SYS/#", "$SYS/broker/log/N", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TopicMatches(tt.filter, tt.topic),
			"filter %q vs topic %q", tt.filter, tt.topic)
	}
}
