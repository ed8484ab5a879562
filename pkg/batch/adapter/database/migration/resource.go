package migration

import (
	"database/sql"
	"embed"
	"io/fs"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

//go:embed resource
var rawFrameworkMigrationFS embed.FS

// FrameworkMigrationsFS returns the job repository migrations, one directory per database type.
func FrameworkMigrationsFS() fs.FS {
	sub, err := fs.Sub(rawFrameworkMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to open framework migration FS: %v", err)
	}
	return sub
}

// NewFrameworkMigrator creates the Migrator for the job repository tables of cfg.Type.
func NewFrameworkMigrator(db *sql.DB, cfg config.DatabaseConfig) *Migrator {
	return NewMigrator(db, cfg, FrameworkMigrationsFS(), cfg.Type, FrameworkMigrationsTable)
}
