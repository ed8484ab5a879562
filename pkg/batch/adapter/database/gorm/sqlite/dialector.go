// Package sqlite registers the SQLite dialector.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg config.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(DSN(cfg)), nil
	})
}

// DSN returns the SQLite file path. WAL mode and a busy timeout let partitions write concurrently.
func DSN(c config.DatabaseConfig) string {
	if c.Database == ":memory:" {
		return "file::memory:?cache=shared"
	}
	return c.Database + "?_journal_mode=WAL&_busy_timeout=5000"
}
