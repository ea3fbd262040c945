package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outgoing payloads at 1MB. Bemfa device payloads are a
// few bytes; discovery configs a few kilobytes.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgement
// (QoS 1 and 2) or for the write to the socket (QoS 0).
//
// Parameters:
//   - topic: Concrete topic, no wildcards (e.g. "light002/set")
//   - payload: Message body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: Ask the broker to keep the message for late subscribers
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or a wrapped
//     ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := ValidatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// await waits for a paho token and wraps a timeout or token error in failed.
func await(tok pahomqtt.Token, timeout time.Duration, failed error) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", failed, timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", failed, err)
	}
	return nil
}
