package rules

import "strings"

// TopicMatches reports whether a topic matches an MQTT-style filter.
// "+" matches exactly one level, "#" matches the remainder of the topic.
func TopicMatches(filter, topic string) bool {
	if filter == "" || filter == "#" {
		return true
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, fp := range filterParts {
		if fp == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if fp != "+" && fp != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}
