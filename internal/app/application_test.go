package app_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/internal/app"
	appJob "github.com/tigerroll/chunkflow/internal/job"
	"github.com/tigerroll/chunkflow/internal/repository"
	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const configTemplate = `
chunkflow:
  batch:
    input_file: %[1]s/customers.csv
    job_repository: inmemory
    partition:
      grid_size: 4
      chunk_size: 50
      pool_size: 4
  database:
    type: sqlite
    database: %[1]s/chunkflow.db
    auto_migrate: true
    pool:
      max_open_conns: 1
  metrics:
    enabled: true
  tracing:
    exporter: none
  system:
    logging:
      level: WARN
  storage:
    local:
      type: local
      base_dir: %[1]s/out
`

func newOptions(t *testing.T, records int) (app.Options, string) {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("id,firstName,lastName,email,gender,contactNo,country,dob\n")
	for i := 1; i <= records; i++ {
		fmt.Fprintf(&b, "%d,first%d,last%d,c%d@example.com,Male,555-%04d,US,02-03-1985\n", i, i, i, i, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers.csv"), []byte(b.String()), 0o644))
	return app.Options{EmbeddedConfig: config.EmbeddedConfig(fmt.Sprintf(configTemplate, dir))}, dir
}

func TestRunJob_PartitionedImport(t *testing.T) {
	opts, dir := newOptions(t, 400)

	params := model.NewJobParametersBuilder().AddString(appJob.ParamInputFile, filepath.Join(dir, "customers.csv")).ToJobParameters()
	je, err := app.RunJob(context.Background(), opts, appJob.PartitionedImportJobName, params)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)

	db, err := gormadapter.Open(config.DatabaseConfig{Type: "sqlite", Database: filepath.Join(dir, "chunkflow.db")}, "SILENT")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	processed, err := repository.NewCustomerRepository(db, nil).CountProcessed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(400), processed)
}

func TestRunJob_UnknownJob(t *testing.T) {
	opts, _ := newOptions(t, 1)

	_, err := app.RunJob(context.Background(), opts, "noSuchJob", model.NewJobParametersBuilder().ToJobParameters())
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func TestMigrate_UpThenDown(t *testing.T) {
	opts, dir := newOptions(t, 0)
	ctx := context.Background()

	require.NoError(t, app.Migrate(ctx, opts, app.MigrateUp))

	db, err := gormadapter.Open(config.DatabaseConfig{Type: "sqlite", Database: filepath.Join(dir, "chunkflow.db")}, "SILENT")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.True(t, db.Migrator().HasTable("customers"))
	assert.True(t, db.Migrator().HasTable("batch_job_execution"))

	require.NoError(t, app.Migrate(ctx, opts, app.MigrateDown))
	assert.False(t, db.Migrator().HasTable("customers"))
}

func TestMigrate_UnknownDirection(t *testing.T) {
	opts, _ := newOptions(t, 0)
	err := app.Migrate(context.Background(), opts, "sideways")
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}
