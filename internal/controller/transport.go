package controller

import (
	"context"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/discovery"
)

// DeviceInfo describes the controller identified during the connection
// handshake. ProductName becomes the link's device label.
type DeviceInfo struct {
	ProductName string
	Revision    string
}

// Transport is the narrow wire-protocol contract the link consumes. An
// implementation owns framing and encoding for one protocol family and one
// physical channel; the link layered above it owns serialisation, call
// timeouts, connection state and statistics, so transports may assume calls
// arrive one at a time.
type Transport interface {
	// Open establishes the physical connection and performs the handshake.
	// The device-properties read doubles as the handshake test; its product
	// name identifies the controller.
	Open(ctx context.Context, endpoint Endpoint) (DeviceInfo, error)

	// Close releases the connection. It must be safe to call on a transport
	// that is not open.
	Close() error

	// Read resolves each address to a scalar reading, multi-reading where
	// the protocol allows. An address that fails to read yields an absent
	// Reading; only wholesale channel loss returns an error. Boolean values
	// are coerced to 0/1.
	Read(ctx context.Context, addresses []string) (map[string]Reading, error)
}

// RawTag is one row of a controller's tag directory before classification.
type RawTag struct {
	Name        string
	TypeName    string // vendor data type name, e.g. "DINT"
	IsStruct    bool
	TypeID      string // struct template identifier, structs only
	ArrayLength int    // 0 for scalars
}

// DirectoryTransport is implemented by Directory-family drivers.
type DirectoryTransport interface {
	Transport

	// ListTags performs the single directory query.
	ListTags(ctx context.Context) ([]RawTag, error)
}

// FlatTransport is implemented by FlatAddress-family drivers. Its Probe
// satisfies discovery.Prober so the discovery engine can drive the wire
// directly through the link's serialisation guard.
type FlatTransport interface {
	Transport

	// Probe attempts a single-element validity read. nil means the element
	// exists; any error is interpreted as absent.
	Probe(ctx context.Context, code discovery.TypeCode, file, element int) error
}
