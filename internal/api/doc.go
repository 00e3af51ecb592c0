// Package api implements the HTTP REST API and WebSocket server for the
// SAS Trend Tool.
//
// This package provides:
//   - REST endpoints for the controller link, discovery scans, the live
//     trend session, and the session archive
//   - WebSocket hub broadcasting live samples, scan progress, and session
//     lifecycle events
//   - JWT authentication with ticket-based WebSocket auth and a two-tier
//     role model (viewer reads, operator mutates)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for deployments off the bench
//
// # Architecture
//
// The API server sits between browser clients and the controller link.
// Mutations (connect, scan, start trend) dispatch to background workers
// and return immediately; clients follow progress by polling the status
// endpoints or subscribing to WebSocket channels. No handler ever holds
// a request open across wire I/O to the controller.
//
// # Security
//
// Authentication uses JWT access tokens issued against the accounts
// declared in configuration. WebSocket connections use single-use tickets
// to keep tokens out of URLs. Viewers may read everything; operators may
// additionally mutate; the split keeps a read-only dashboard from ever
// touching a live machine.
package api
