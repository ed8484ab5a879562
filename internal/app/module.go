// Package app composes the chunkflow application from the framework and customer modules.
package app

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	// Dialectors register themselves with the gorm adapter.
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"

	"github.com/tigerroll/chunkflow/internal/api"
	"github.com/tigerroll/chunkflow/internal/consumer"
	appJob "github.com/tigerroll/chunkflow/internal/job"
	appMigration "github.com/tigerroll/chunkflow/internal/migration"
	"github.com/tigerroll/chunkflow/internal/repository"
	"github.com/tigerroll/chunkflow/internal/step/processor"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	chunkKafka "github.com/tigerroll/chunkflow/pkg/batch/adapter/messaging/kafka"
	storageAdapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	jobRepo "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	coreJob "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	jobRunner "github.com/tigerroll/chunkflow/pkg/batch/core/job/runner"
	coreMetrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/executor"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
	promMetrics "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	sqlRepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/telemetry"
	batchlistener "github.com/tigerroll/chunkflow/pkg/batch/listener"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewJobRepository selects the execution store named by batch.job_repository.
func NewJobRepository(cfg *config.Config, db *gorm.DB) jobRepo.JobRepository {
	if cfg.Chunkflow.Batch.JobRepository == "inmemory" {
		logger.Warnf("Using the in-memory job repository; executions are lost on exit.")
		return inmemory.NewInMemoryJobRepository()
	}
	return sqlRepo.NewSQLJobRepository(db)
}

// NewMetricRecorder combines the OpenTelemetry recorder with Prometheus when metrics are enabled.
func NewMetricRecorder(cfg *config.Config, prom *promMetrics.PrometheusRecorder, otel *telemetry.OTelMetricRecorder) coreMetrics.MetricRecorder {
	if !cfg.Chunkflow.Metrics.Enabled {
		return otel
	}
	return coreMetrics.NewCompositeMetricRecorder(prom, otel)
}

// NewPublisher exposes the Kafka producer to the job writers.
func NewPublisher(p *chunkKafka.Producer) writer.Publisher {
	return p
}

// RegisterMigrations applies the framework and customer schemas on startup when
// database.auto_migrate is set. Hooks run in registration order, so this precedes the
// consumer and the HTTP server.
func RegisterMigrations(lc fx.Lifecycle, cfg *config.Config, db *gorm.DB) {
	dbCfg := cfg.Chunkflow.Database
	if !dbCfg.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			for _, m := range appMigration.Migrators(sqlDB, dbCfg) {
				if err := m.Up(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// ApplySecuritySettings configures which job parameters are masked in logs.
func ApplySecuritySettings(cfg *config.Config) {
	model.SetMaskedParameterKeys(cfg.Chunkflow.Security.MaskedParameterKeys)
}

// FrameworkModule wires the batch engine and its adapters.
var FrameworkModule = fx.Options(
	logger.Module,
	config.Module,
	gormadapter.Module,
	storageAdapter.Module,
	local.Module,
	gcs.Module,
	chunkKafka.Module,
	executor.Module,
	partition.Module,
	factory.Module,
	coreJob.Module,
	jobRunner.Module,
	usecase.Module,
	batchlistener.Module,
	promMetrics.Module,
	telemetry.Module,

	fx.Provide(NewJobRepository),
	fx.Provide(NewMetricRecorder),
	fx.Provide(NewPublisher),
	fx.Invoke(ApplySecuritySettings),
	fx.Invoke(RegisterMigrations),
)

// Module wires the customer jobs, the consumer and the HTTP API on top of FrameworkModule.
var Module = fx.Options(
	FrameworkModule,
	repository.Module,
	processor.Module,
	appJob.Module,
	consumer.Module,
	api.Module,
)
