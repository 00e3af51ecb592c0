// Package store provides SQLite persistence for the SAS Trend Tool.
//
// Three repositories live here:
//   - InventoryStore: the latest discovery scan result per endpoint
//   - SessionStore: archived trend sessions with their full export documents
//   - EventStore: the operational event log (scans, sessions, link changes)
//
// The live trend buffer is deliberately not here: a running session exists
// in memory only, and its document is written exactly once, on stop. That
// keeps the sampling path free of disk I/O.
//
// All repositories expect the schema created by the embedded migrations
// and accept any *sql.DB, which keeps tests on in-memory databases.
package store
