// Package migration applies embedded SQL migrations with golang-migrate.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	sqliteDialect "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const moduleName = "migration"

// FrameworkMigrationsTable tracks the job repository schema, kept apart from application migrations.
const FrameworkMigrationsTable = "batch_schema_migrations"

// Migrator runs one set of migrations against the configured database.
type Migrator struct {
	db              *sql.DB
	cfg             config.DatabaseConfig
	source          fs.FS
	path            string
	migrationsTable string
}

// NewMigrator creates a Migrator reading migrations from path inside source. For postgres and
// mysql db is borrowed for a single connection; SQLite opens its own handle on the same file.
func NewMigrator(db *sql.DB, cfg config.DatabaseConfig, source fs.FS, path, migrationsTable string) *Migrator {
	if migrationsTable == "" {
		migrationsTable = "schema_migrations"
	}
	return &Migrator{db: db, cfg: cfg, source: source, path: path, migrationsTable: migrationsTable}
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mi *migrate.Migrate) error { return mi.Up() })
}

// Down reverts the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mi *migrate.Migrate) error { return mi.Steps(-1) })
}

// Version returns the applied version and whether the last migration left the schema dirty.
// A database without migrations reports version 0.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := m.run(ctx, "version", func(mi *migrate.Migrate) error {
		var err error
		version, dirty, err = mi.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

func (m *Migrator) run(ctx context.Context, command string, fn func(*migrate.Migrate) error) (err error) {
	logger.Infof("Executing migration '%s' (DB: %s, Path: %s, Table: %s).", command, m.cfg.Type, m.path, m.migrationsTable)

	sourceDriver, err := iofs.New(m.source, m.path)
	if err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to open migration source '%s'", m.path), err, false, false)
	}
	dbDriver, err := m.databaseDriver(ctx)
	if err != nil {
		sourceDriver.Close()
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to create %s migration driver", m.cfg.Type), err, false, false)
	}
	mi, err := migrate.NewWithInstance("iofs", sourceDriver, m.cfg.Type, dbDriver)
	if err != nil {
		sourceDriver.Close()
		dbDriver.Close()
		return exception.NewBatchError(moduleName, "failed to create migrate instance", err, false, false)
	}
	defer func() {
		srcErr, dbErr := mi.Close()
		if srcErr != nil {
			logger.Warnf("Failed to close migration source: %v", srcErr)
		}
		if dbErr != nil {
			logger.Warnf("Failed to close migration database driver: %v", dbErr)
		}
	}()

	if err := fn(mi); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewBatchError(moduleName, fmt.Sprintf("migration '%s' failed (DB: %s, Path: %s)", command, m.cfg.Type, m.path), err, false, false)
	}
	logger.Infof("Migration '%s' completed.", command)
	return nil
}

// databaseDriver returns a driver whose Close leaves m.db open.
func (m *Migrator) databaseDriver(ctx context.Context) (database.Driver, error) {
	switch m.cfg.Type {
	case "postgres":
		conn, err := m.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: m.migrationsTable, DatabaseName: m.cfg.Database})
	case "mysql":
		conn, err := m.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return mysql.WithConnection(ctx, conn, &mysql.Config{MigrationsTable: m.migrationsTable, DatabaseName: m.cfg.Database})
	case "sqlite":
		own, err := sql.Open("sqlite3", sqliteDialect.DSN(m.cfg))
		if err != nil {
			return nil, err
		}
		driver, err := sqlite3.WithInstance(own, &sqlite3.Config{MigrationsTable: m.migrationsTable})
		if err != nil {
			own.Close()
			return nil, err
		}
		return driver, nil
	default:
		return nil, exception.NewInvalidArgumentError(moduleName, fmt.Sprintf("unsupported database type for migration: %s", m.cfg.Type))
	}
}
