// Package mqtt publishes trend activity to the plant broker.
//
// The trend tool is a pure MQTT publisher. When the sink is enabled,
// every appended sample is mirrored to a per-session topic so plant
// dashboards and historians can follow a live trend without touching
// the REST API:
//
//	Trend Tool → MQTT Broker → Dashboards / Historians
//
// Topics live under a configurable prefix (default "sastrend"):
//
//	<prefix>/sessions/<id>/samples   live sample stream
//	<prefix>/sessions/<id>/state     session lifecycle (retained)
//	<prefix>/system/status           online/offline status (retained, LWT)
//
// The connection auto-reconnects with backoff between the configured
// initial and maximum delays, and carries a Last Will so the broker
// announces a crash on the status topic even when the tool cannot.
//
// # Security
//
// Enable TLS (broker.tls) for anything beyond a bench setup; the
// minimum accepted version is TLS 1.2. Credentials are optional and
// passed straight to the broker for ACL checks. Payloads carry sample
// values and session identifiers, nothing secret, but they are only as
// private as the transport.
//
// # Usage
//
//	pub, err := mqtt.Connect(cfg.MQTT)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    // run without the sink
//	} else if err != nil {
//	    return err
//	}
//	defer pub.Close()
//
//	topic := pub.Topics().SessionSamples("trs-0031")
//	err = pub.Publish(topic, payload, 1, false)
package mqtt
