package mqtt

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit on topic length in bytes.
const maxTopicLength = 65535

// ValidatePublishTopic checks that topic is usable as a publish target.
//
// Publish topics must be non-empty, must not contain the wildcard characters
// '+' or '#', and must not contain a NUL byte.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidTopic, len(topic), maxTopicLength)
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return fmt.Errorf("%w: %q contains wildcard or NUL", ErrInvalidTopic, topic)
	}
	return nil
}

// MatchTopic reports whether topic matches the subscription filter,
// honouring the '+' and '#' wildcards.
//
// Example:
//
//	MatchTopic("homeassistant/+/bemfa/#", "homeassistant/light/bemfa/light002/config") // true
func MatchTopic(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, part := range fp {
		if part == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if part != "+" && part != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
