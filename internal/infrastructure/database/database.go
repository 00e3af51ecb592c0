package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirMode is the permission mode for the directory holding the database.
	dirMode = 0750

	// fileMode keeps the database file owner-only: archived trend data and
	// password hashes live inside it.
	fileMode = 0600

	// openTimeout bounds the connectivity check performed by Open.
	openTimeout = 5 * time.Second
)

// DB wraps the sql.DB handle with schema migration support and lifecycle
// helpers. The handle is embedded so the store packages can run plain
// database/sql queries against it.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of sastrend.yaml.
type Config struct {
	// Path is the SQLite file location. The parent directory is created on
	// first open.
	Path string

	// WALMode switches the journal to write-ahead logging so readers do not
	// block the single writer.
	WALMode bool

	// BusyTimeout is how long, in seconds, a statement waits on a locked
	// database before giving up.
	BusyTimeout int
}

// Open connects to the SQLite database at cfg.Path, creating the file and
// its directory when absent, and verifies the connection with a ping.
//
// The pool is pinned to a single connection: SQLite allows one writer at a
// time, and a pool of one turns Go-side contention into queueing instead of
// SQLITE_BUSY errors surfacing mid-request.
//
// Parameters:
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Verified database handle
//   - error: If the directory, file, or connection cannot be established
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection, kept warm. See the pool note on Open.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Owner read/write only. Best effort: on a brand-new database the file
	// may not exist until the first write.
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // Intentional: first run creates file later

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string for cfg.
//
// _busy_timeout makes SQLite retry on lock contention instead of failing
// immediately (the config value arrives in seconds, the pragma wants
// milliseconds). _foreign_keys enforces the ON DELETE CASCADE between
// archived sessions and their samples.
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Path returns the filesystem location of the database file.
func (db *DB) Path() string {
	return db.path
}

// Close releases the underlying connection. Safe to call on a handle whose
// connection was never established.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to confirm the database answers. Wired
// into the readiness probe alongside the broker and Influx checks.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil when the database responds
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
