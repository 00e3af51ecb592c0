// Package migrations compiles the SQL migration files into the binary, so
// a deployed sastrend needs no schema files on disk.
package migrations

import (
	"embed"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Hand the embedded files to the database package. Importing this
	// package for side effects is what wires migrations in.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // embedded FS roots at this directory
}
