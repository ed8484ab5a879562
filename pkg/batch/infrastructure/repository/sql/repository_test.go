package sql_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database/migration"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func newRepository(t *testing.T) *sqlrepo.SQLJobRepository {
	t.Helper()
	cfg := config.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "jobs.db")}
	require.NoError(t, migration.NewFrameworkMigrator(nil, cfg).Up(context.Background()))

	db, err := gormadapter.Open(cfg, "ERROR")
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return sqlrepo.NewSQLJobRepository(db)
}

func newInstance(t *testing.T, repo *sqlrepo.SQLJobRepository, jobName string, params model.JobParameters) *model.JobInstance {
	t.Helper()
	instance, err := model.NewJobInstance(jobName, params)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(context.Background(), instance))
	return instance
}

func fixedParams(file string) model.JobParameters {
	clock := func() time.Time { return time.UnixMilli(1700000000000) }
	return model.NewJobParametersBuilder().WithClock(clock).AddString("inputFile", file).ToJobParameters()
}

func TestSQLJobRepository_JobInstances(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	params := fixedParams("customers.csv")
	instance := newInstance(t, repo, "csvToKafkaJob", params)
	newInstance(t, repo, "csvToParquetJob", params)

	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "csvToKafkaJob", params)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, found.ID)
	assert.True(t, found.Parameters.Equal(params))

	_, err = repo.FindJobInstanceByJobNameAndParameters(ctx, "csvToKafkaJob", fixedParams("other.csv"))
	assert.ErrorIs(t, err, exception.ErrNotFound)

	byID, err := repo.FindJobInstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ParametersHash, byID.ParametersHash)

	duplicate, err := model.NewJobInstance("csvToKafkaJob", params)
	require.NoError(t, err)
	assert.Error(t, repo.SaveJobInstance(ctx, duplicate))

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"csvToKafkaJob", "csvToParquetJob"}, names)
}

func TestSQLJobRepository_OneRunningExecutionPerInstance(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	instance := newInstance(t, repo, "csvToKafkaJob", fixedParams("customers.csv"))

	first := model.NewJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, first))

	second := model.NewJobExecution(instance)
	err := repo.SaveJobExecution(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrAlreadyRunning)

	require.NoError(t, first.MarkAsStarted())
	require.NoError(t, repo.UpdateJobExecution(ctx, first))
	require.NoError(t, first.MarkAsFailed(errors.New("boom")))
	require.NoError(t, repo.UpdateJobExecution(ctx, first))

	assert.NoError(t, repo.SaveJobExecution(ctx, second))
}

func TestSQLJobRepository_StoppedExecutionFreesRunningKey(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	instance := newInstance(t, repo, "csvToKafkaJob", fixedParams("customers.csv"))

	orphan := model.NewJobExecution(instance)
	require.NoError(t, orphan.MarkAsStarted())
	require.NoError(t, repo.SaveJobExecution(ctx, orphan))

	stored, err := repo.FindJobExecutionByID(ctx, orphan.ID)
	require.NoError(t, err)
	require.NoError(t, stored.MarkAsStopped())
	require.NoError(t, repo.UpdateJobExecution(ctx, stored))

	running, err := repo.FindRunningJobExecutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
	assert.NoError(t, repo.SaveJobExecution(ctx, model.NewJobExecution(instance)))
}

func TestSQLJobRepository_ConcurrentSaveAdmitsOne(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	instance := newInstance(t, repo, "partitionedImportCustomers", fixedParams("customers.csv"))

	var (
		wg       sync.WaitGroup
		admitted = atomic.NewInt32(0)
		rejected = atomic.NewInt32(0)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.SaveJobExecution(ctx, model.NewJobExecution(instance))
			switch {
			case err == nil:
				admitted.Inc()
			case errors.Is(err, exception.ErrAlreadyRunning):
				rejected.Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, int32(7), rejected.Load())
	running, err := repo.FindRunningJobExecutions(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestSQLJobRepository_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	instance := newInstance(t, repo, "csvToKafkaJob", fixedParams("customers.csv"))
	je := model.NewJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	require.NoError(t, je.MarkAsStarted())
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	stale, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	require.NoError(t, je.MarkAsStopping())
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	require.NoError(t, stale.MarkAsCompleted())
	err = repo.UpdateJobExecution(ctx, stale)
	assert.ErrorIs(t, err, exception.ErrOptimisticLockingFailure)

	stored, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopping, stored.Status)

	missing := model.NewJobExecution(instance)
	assert.ErrorIs(t, repo.UpdateJobExecution(ctx, missing), exception.ErrNotFound)
}

func TestSQLJobRepository_StepExecutionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	instance := newInstance(t, repo, "partitionedImportCustomers", fixedParams("customers.csv"))
	je := model.NewJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	master := model.NewStepExecution(je, "masterStep")
	require.NoError(t, repo.SaveStepExecution(ctx, master))
	worker := model.NewStepExecution(je, "workerStep:partition-0")
	worker.StartTime = master.StartTime.Add(time.Millisecond)
	worker.ExecutionContext = model.PartitionContext{PartitionID: 0, Offset: 0, Limit: 250, Label: "partition-0"}.ToExecutionContext()
	require.NoError(t, repo.SaveStepExecution(ctx, worker))

	worker.MarkAsStarted()
	worker.ReadCount, worker.WriteCount, worker.CommitCount = 100, 100, 2
	worker.ExecutionContext.Put(model.ContextKeyReadPosition, 100)
	require.NoError(t, repo.UpdateStepExecution(ctx, worker))

	loaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	require.Len(t, loaded.StepExecutions, 2)
	assert.Equal(t, "masterStep", loaded.StepExecutions[0].StepName)

	got := loaded.FindStepExecution("workerStep:partition-0")
	require.NotNil(t, got)
	assert.Same(t, loaded, got.JobExecution)
	assert.Equal(t, model.BatchStatusStarted, got.Status)
	assert.Equal(t, 100, got.ReadPosition())
	assert.Equal(t, 2, got.CommitCount)
	limit, ok := got.ExecutionContext.GetInt(model.ContextKeyPartitionLimit)
	assert.True(t, ok)
	assert.Equal(t, 250, limit)

	unknown := model.NewStepExecution(je, "ghost")
	assert.ErrorIs(t, repo.UpdateStepExecution(ctx, unknown), exception.ErrNotFound)
	_, err = repo.FindStepExecutionByID(ctx, "nope")
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func TestSQLJobRepository_Listing(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i, name := range []string{"csvToKafkaJob", "csvToParquetJob", "csvToKafkaJob"} {
		instance := newInstance(t, repo, name, fixedParams(string(rune('a'+i))+".csv"))
		je := model.NewJobExecution(instance)
		je.StartTime = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.SaveJobExecution(ctx, je))
		if i < 2 {
			require.NoError(t, je.MarkAsStarted())
			require.NoError(t, je.MarkAsCompleted())
			require.NoError(t, repo.UpdateJobExecution(ctx, je))
		}
		ids = append(ids, je.ID)
	}

	recent, err := repo.FindRecentJobExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, []string{ids[2], ids[1]}, []string{recent[0].ID, recent[1].ID})

	byName, err := repo.FindJobExecutionsByJobName(ctx, "csvToKafkaJob", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[0]}, []string{byName[0].ID, byName[1].ID})

	running, err := repo.FindRunningJobExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, ids[2], running[0].ID)

	total, err := repo.CountJobExecutions(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	completed, err := repo.CountJobExecutions(ctx, "csvToKafkaJob", model.BatchStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), completed)

	none, err := repo.FindJobExecutionsByJobName(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.FindLatestJobExecution(ctx, "missing-instance")
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func newMockRepository(t *testing.T) (*sqlrepo.SQLJobRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return sqlrepo.NewSQLJobRepository(db), mock
}

func TestSQLJobRepository_UpdateStaleVersion_Postgres(t *testing.T) {
	repo, mock := newMockRepository(t)
	je := &model.JobExecution{ID: "je-1", JobInstanceID: "ji-1", Status: model.BatchStatusStarted, Version: 3}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "batch_job_execution" SET`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "batch_job_execution"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.UpdateJobExecution(context.Background(), je)
	assert.ErrorIs(t, err, exception.ErrOptimisticLockingFailure)
	assert.Equal(t, 3, je.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLJobRepository_QueryErrorIsRetryable_Postgres(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "batch_job_execution"`)).WillReturnError(errors.New("connection refused"))

	_, err := repo.FindRecentJobExecutions(context.Background(), 5)
	require.Error(t, err)
	var batchErr *exception.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.True(t, batchErr.IsRetryable())
	assert.NoError(t, mock.ExpectationsWereMet())
}
