// Package controller provides the uniform access layer over industrial
// controllers for the SAS Trend Tool.
//
// Two protocol families are supported:
//
//   - Directory: controllers exposing a queryable directory of named,
//     typed tags (Logix-class processors).
//   - FlatAddress: controllers with a fixed but undocumented memory layout
//     of numbered data files, reconstructed by probing (SLC/MicroLogix-class
//     processors) via the discovery engine.
//
// # Architecture
//
//	┌──────────────┐     ┌──────────────┐     ┌─────────────────┐
//	│  Sampling /  │────▶│     Link     │────▶│    Transport    │
//	│  Discovery   │     │  (link.go)   │     │  (wire driver)  │
//	└──────────────┘     │              │     └─────────────────┘
//	                     │ • one conn   │
//	                     │ • serialised │     in-tree: emulator
//	                     │ • timeouts   │     external: EtherNet/IP
//	                     │ • stats      │     drivers
//	                     └──────────────┘
//
// The Link owns the single physical connection and serialises every call:
// the underlying channel is not safe for concurrent in-flight requests, so
// at most one operation is outstanding at any time. The wire protocol
// itself (framing, encoding) lives behind the narrow Transport interface
// and is out of scope here; the package ships an in-memory emulator
// transport for tests and demo deployments.
//
// # Key Types
//
//   - Endpoint: address + slot + protocol family, immutable once connected
//   - Tag: tagged variant over atomic / composite / flat-file /
//     flat-sub-element classes
//   - Reading: value-or-absent result for one tag at one tick
//   - Link: the ControllerLink contract consumed by sampling and discovery
//
// # Thread Safety
//
// All exported Link methods are safe for concurrent use.
package controller
