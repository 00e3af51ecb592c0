package mqtt

import "errors"

// Sentinel errors for broker operations. Callers branch with errors.Is;
// wrapped variants carry the underlying detail.
var (
	// ErrDisabled means MQTT publishing is switched off in config.
	// Connect returns it without dialling anything.
	ErrDisabled = errors.New("mqtt: disabled in configuration")

	// ErrNotConnected means the operation needs a live broker
	// connection and there is none.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed means the initial connection attempt did not
	// complete.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps publish rejections and delivery failures.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS means the QoS level is outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1, or 2")

	// ErrInvalidTopic means the topic string is empty.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
