package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound messages at 1MB. Larger payloads are
// rejected before reaching the broker; typical broker limits sit at or
// below this.
const maxPayloadSize = 1 << 20

// validatePublish rejects malformed publish arguments before any
// network interaction.
func validatePublish(topic string, payload []byte, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}

// Publish sends a message and waits for broker acknowledgment at the
// requested QoS (0, 1, or 2).
//
// Retained messages are kept by the broker and handed to new
// subscribers on arrival. Use retained for state topics (session state,
// system status), never for the sample stream, where a stale retained
// point would be indistinguishable from a live one.
//
// Example:
//
//	topic := client.Topics().SessionSamples("trs-0031")
//	err := client.Publish(topic, payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := waitToken(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishString publishes a string payload. Equivalent to Publish with
// []byte(payload).
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message at the configured
// default QoS. Use for state updates where new subscribers should
// receive the current value immediately.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
