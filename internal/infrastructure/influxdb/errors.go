package influxdb

import "errors"

// Sentinel errors, matched with errors.Is. Write failures never surface
// here: the write path is asynchronous and reports through the SetOnError
// callback instead.
var (
	// ErrDisabled means the influxdb section of sastrend.yaml has
	// enabled: false. The service treats the mirror as optional and
	// carries on without it.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping failure from Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close, or when the
	// client never established a connection.
	ErrNotConnected = errors.New("influxdb: not connected")
)
