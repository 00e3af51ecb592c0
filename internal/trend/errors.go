package trend

import "errors"

// Sentinel errors returned by the trend engine.
var (
	// ErrSerialization reports a malformed or unreadable export document.
	ErrSerialization = errors.New("trend: serialization failed")

	// ErrNonMonotonic reports a sample whose timestamp does not advance the
	// session clock.
	ErrNonMonotonic = errors.New("trend: sample timestamp not increasing")

	// ErrSessionActive reports an operation that requires no running session.
	ErrSessionActive = errors.New("trend: a session is already running")

	// ErrNoSession reports an operation with no session to act on.
	ErrNoSession = errors.New("trend: no session")

	// ErrNotRunning reports a mutation that requires a running session.
	ErrNotRunning = errors.New("trend: session not running")

	// ErrNoTags reports a start request with no trendable tags.
	ErrNoTags = errors.New("trend: tag set is empty")

	// ErrInvalidRate reports a sample rate outside the configured bounds.
	ErrInvalidRate = errors.New("trend: sample rate out of range")

	// ErrAlreadyRunning reports a second Start on a live sampler.
	ErrAlreadyRunning = errors.New("trend: sampler already running")

	// ErrJoinTimeout reports a sampling loop that did not exit within the
	// join window. The caller must treat the session as leaked rather than
	// retry indefinitely.
	ErrJoinTimeout = errors.New("trend: sampling loop did not stop in time")
)
