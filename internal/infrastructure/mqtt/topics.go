package mqtt

import "fmt"

// defaultTopicPrefix anchors the topic tree when the configuration leaves
// topic_prefix empty.
const defaultTopicPrefix = "sastrend"

// Topics provides builders for the MQTT topics the trend tool publishes.
// Using these helpers ensures consistent topic naming across the codebase.
//
// All topics live under a single configurable prefix so several tool
// instances can share one broker without colliding:
//
//	topics := mqtt.Topics{Prefix: "plant7/trend"}
//	sampleTopic := topics.SessionSamples("trs-0031")
//	// Returns: "plant7/trend/sessions/trs-0031/samples"
type Topics struct {
	// Prefix replaces the default "sastrend" root when non-empty.
	Prefix string
}

// root returns the configured prefix, falling back to the default.
func (t Topics) root() string {
	if t.Prefix == "" {
		return defaultTopicPrefix
	}
	return t.Prefix
}

// SessionSamples returns the topic carrying the live sample stream for a
// trend session. One message is published per appended sample row, with
// the same JSON shape as an export document data entry.
//
// Example: sastrend/sessions/trs-0031/samples
func (t Topics) SessionSamples(sessionID string) string {
	return fmt.Sprintf("%s/sessions/%s/samples", t.root(), sessionID)
}

// SessionState returns the topic announcing session lifecycle changes
// (started, stopped, auto_stopped, imported). State messages are published
// retained so late subscribers see the current session immediately.
//
// Example: sastrend/sessions/trs-0031/state
func (t Topics) SessionState(sessionID string) string {
	return fmt.Sprintf("%s/sessions/%s/state", t.root(), sessionID)
}

// SystemStatus returns the tool's online/offline status topic. The broker
// publishes the LWT payload here if the connection drops unexpectedly.
//
// Example: sastrend/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.root())
}
