package gorm

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewDB opens the configured database and closes it on shutdown.
func NewDB(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.Chunkflow.Database, cfg.Chunkflow.System.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			logger.Debugf("Closing DB connection (%s).", cfg.Chunkflow.Database.Type)
			return sqlDB.Close()
		},
	})
	return db, nil
}

// Module provides the *gorm.DB and its TransactionManager. Drivers register themselves from
// the sqlite, postgres and mysql sub-packages.
var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Provide(NewGormTransactionManager),
)
