package controller

import "errors"

// Sentinel errors returned by the controller link. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	// ErrConnection reports a failed or rejected connection attempt
	// (dial timeout, handshake failure).
	ErrConnection = errors.New("controller: connection failed")

	// ErrNotConnected reports an operation attempted without an open link.
	ErrNotConnected = errors.New("controller: not connected")

	// ErrReadFailure reports a wholesale batch read failure (channel loss).
	// Per-tag failures never raise it; they yield absent readings instead.
	ErrReadFailure = errors.New("controller: batch read failed")

	// ErrInvalidEndpoint reports a malformed endpoint.
	ErrInvalidEndpoint = errors.New("controller: invalid endpoint")

	// ErrUnsupported reports an operation the connected protocol family
	// does not provide.
	ErrUnsupported = errors.New("controller: operation not supported by protocol family")
)
