package trend

// Sink consumes appended samples for delivery to external consumers
// (WebSocket clients, MQTT topics, time-series mirrors).
//
// PublishSample is called synchronously on the sampling goroutine between
// ticks, so implementations must not block: buffer internally and drop on
// overflow rather than stall the poller. Failures stay inside the sink;
// nothing a sink does may disturb acquisition.
type Sink interface {
	PublishSample(sessionID string, sample Sample)
}
