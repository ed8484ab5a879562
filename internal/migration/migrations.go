// Package migration embeds the application schema, applied after the job repository schema.
package migration

import (
	"database/sql"
	"embed"
	"io/fs"

	frameworkMigration "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/migration"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// MigrationsTable tracks the application schema.
const MigrationsTable = "app_schema_migrations"

//go:embed resource
var rawApplicationMigrationFS embed.FS

// ApplicationMigrationsFS returns the customer table migrations, one directory per database type.
func ApplicationMigrationsFS() fs.FS {
	sub, err := fs.Sub(rawApplicationMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to open application migration FS: %v", err)
	}
	return sub
}

// NewApplicationMigrator creates the Migrator for the customer tables of cfg.Type.
func NewApplicationMigrator(db *sql.DB, cfg config.DatabaseConfig) *frameworkMigration.Migrator {
	return frameworkMigration.NewMigrator(db, cfg, ApplicationMigrationsFS(), cfg.Type, MigrationsTable)
}

// Migrators returns the framework migrator followed by the application migrator.
func Migrators(db *sql.DB, cfg config.DatabaseConfig) []*frameworkMigration.Migrator {
	return []*frameworkMigration.Migrator{
		frameworkMigration.NewFrameworkMigrator(db, cfg),
		NewApplicationMigrator(db, cfg),
	}
}
