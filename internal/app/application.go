package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/internal/api"
	"github.com/tigerroll/chunkflow/internal/consumer"
	appMigration "github.com/tigerroll/chunkflow/internal/migration"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// stopTimeout bounds graceful shutdown of the fx application.
const stopTimeout = 30 * time.Second

// Options describes one invocation of the application.
type Options struct {
	EnvFilePath    string
	EmbeddedConfig config.EmbeddedConfig
}

// newApp builds the fx application with the shared modules and the command specific extras.
func (o Options) newApp(extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Supply(
			o.EmbeddedConfig,
			fx.Annotate(o.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		Module,
		fx.StopTimeout(stopTimeout),
	}
	return fx.New(append(opts, extra...)...)
}

// RunJob launches jobName, waits for it to finish and shuts the application down. Cancelling
// appCtx requests a stop at the next chunk boundary. The error is non-nil unless the execution
// COMPLETED.
func RunJob(appCtx context.Context, o Options, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	var launcher *usecase.SimpleJobLauncher
	app := o.newApp(fx.Populate(&launcher))
	if err := app.Err(); err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(appCtx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return nil, fmt.Errorf("failed to start application: %w", err)
	}
	defer stopApp(app)

	je, err := launcher.Launch(appCtx, jobName, params)
	if err != nil {
		return nil, err
	}

	finished, err := launcher.Await(appCtx, je.ID)
	if err != nil {
		logger.Warnf("Stop requested for JobExecution (ID: %s): %v", je.ID, err)
		launcher.RequestStop(je.ID)
		finished, err = launcher.Await(context.Background(), je.ID)
		if err != nil {
			return nil, err
		}
	}

	logger.Infof("Job '%s' (ExecutionID: %s) finished with status %s.", jobName, finished.ID, finished.Status)
	if finished.Status != model.BatchStatusCompleted {
		return finished, exception.NewBatchError("app", fmt.Sprintf("job '%s' finished with status %s", jobName, finished.Status), nil, false, false)
	}
	return finished, nil
}

// Serve runs the HTTP API, and the consumer when consumer.enabled is set, until appCtx is done.
func Serve(appCtx context.Context, o Options) error {
	return runUntilDone(appCtx, o.newApp(fx.Invoke(func(*api.Server) {})))
}

// Consume runs the customer consumer group until appCtx is done, regardless of consumer.enabled.
func Consume(appCtx context.Context, o Options) error {
	return runUntilDone(appCtx, o.newApp(
		fx.Decorate(func(cfg *config.Config) *config.Config {
			cfg.Chunkflow.Consumer.Enabled = true
			return cfg
		}),
		fx.Invoke(func(*consumer.Runner) {}),
	))
}

func runUntilDone(appCtx context.Context, app *fx.App) error {
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(appCtx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	<-appCtx.Done()
	logger.Infof("Shutting down.")
	return stopApp(app)
}

func stopApp(app *fx.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		logger.Errorf("Failed to stop application: %v", err)
		return err
	}
	return nil
}

// MigrateDirection selects Migrate's action.
type MigrateDirection string

const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// Migrate applies or reverts the framework and customer schemas without starting the
// application. Down reverts the customer schema first.
func Migrate(ctx context.Context, o Options, direction MigrateDirection) error {
	cfg, err := config.LoadConfig(o.EnvFilePath, o.EmbeddedConfig)
	if err != nil {
		return err
	}
	logger.SetLogLevel(cfg.Chunkflow.System.Logging.Level)

	dbCfg := cfg.Chunkflow.Database
	db, err := gormadapter.Open(dbCfg, cfg.Chunkflow.System.Logging.Level)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	migrators := appMigration.Migrators(sqlDB, dbCfg)
	switch direction {
	case MigrateUp:
		for _, m := range migrators {
			if err := m.Up(ctx); err != nil {
				return err
			}
		}
	case MigrateDown:
		for i := len(migrators) - 1; i >= 0; i-- {
			if err := migrators[i].Down(ctx); err != nil {
				return err
			}
		}
	default:
		return exception.NewInvalidArgumentError("app", fmt.Sprintf("unknown migration direction '%s'", direction))
	}
	logger.Infof("Migrations (%s) applied to %s database.", direction, dbCfg.Type)
	return nil
}
