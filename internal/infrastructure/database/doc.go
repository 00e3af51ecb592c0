// Package database provides SQLite database connectivity for the SAS Trend Tool.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations (version-ordered, one transaction each)
//   - Connection pooling and lifecycle management
//
// The tool persists three things: discovered inventories, archived trend
// sessions, and the operational event log. The live sample buffer never
// touches the database; a session's document is written once, on stop.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//   - MaxOpenConns(1): SQLite admits a single writer, and the tool's write
//     load (one archive per session, one row per event) never needs more
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only to support safe rollbacks:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Never DROP or RENAME columns (until a major release)
//   - Each migration file has both .up.sql and .down.sql
//
// The .sql files live in the top-level migrations/ directory and are
// embedded at build time; see migrations.go for the runner contract.
package database
