package sinks

// Logger is the consumer-side logging interface shared by the sinks.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// DropCounter counts messages a sink failed to deliver, labelled by sink
// name. Implemented by the metrics registry.
type DropCounter interface {
	DropSample(sink string)
}

// noopDropCounter swallows drop counts when no metrics are wired.
type noopDropCounter struct{}

func (noopDropCounter) DropSample(string) {}
