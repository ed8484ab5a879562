package inmemory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func newInstance(t *testing.T, repo *inmemory.InMemoryJobRepository, jobName string) *model.JobInstance {
	t.Helper()
	params := model.NewJobParametersBuilder().AddString("inputFile", "customers.csv").ToJobParameters()
	instance, err := model.NewJobInstance(jobName, params)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(context.Background(), instance))
	return instance
}

func TestSaveJobExecutionRejectsSecondRunningExecution(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	instance := newInstance(t, repo, "csvToKafkaJob")

	first := model.NewJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, first))

	second := model.NewJobExecution(instance)
	err := repo.SaveJobExecution(ctx, second)
	assert.ErrorIs(t, err, exception.ErrAlreadyRunning)

	require.NoError(t, first.MarkAsStarted())
	require.NoError(t, repo.UpdateJobExecution(ctx, first))
	require.NoError(t, first.MarkAsFailed(assert.AnError))
	require.NoError(t, repo.UpdateJobExecution(ctx, first))

	assert.NoError(t, repo.SaveJobExecution(ctx, second))
}

func TestSaveJobExecutionConcurrentLaunchesAdmitOne(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	instance := newInstance(t, repo, "csvToKafkaJob")

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.SaveJobExecution(ctx, model.NewJobExecution(instance))
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, exception.ErrAlreadyRunning)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestUpdateJobExecutionDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	instance := newInstance(t, repo, "job")
	je := model.NewJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	stale, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)

	require.NoError(t, je.MarkAsStarted())
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	require.NoError(t, stale.MarkAsStarted())
	err = repo.UpdateJobExecution(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
}

func TestFindersOrderNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	base := time.Now()

	var ids []string
	for i := 0; i < 3; i++ {
		params := model.NewJobParametersBuilder().AddLong("i", int64(i)).ToJobParameters()
		instance, err := model.NewJobInstance("job", params)
		require.NoError(t, err)
		require.NoError(t, repo.SaveJobInstance(ctx, instance))
		je := model.NewJobExecution(instance)
		je.StartTime = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.SaveJobExecution(ctx, je))
		ids = append(ids, je.ID)
	}

	recent, err := repo.FindRecentJobExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)

	byName, err := repo.FindJobExecutionsByJobName(ctx, "job", 0)
	require.NoError(t, err)
	assert.Len(t, byName, 3)

	none, err := repo.FindJobExecutionsByJobName(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	running, err := repo.FindRunningJobExecutions(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 3)

	count, err := repo.CountJobExecutions(ctx, "job", model.BatchStatusCompleted)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStepExecutionsAttachedToJobExecution(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	instance := newInstance(t, repo, "job")
	je := model.NewJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	se := model.NewStepExecution(je, "step")
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	se.ExecutionContext.Put(model.ContextKeyReadPosition, 100)
	require.NoError(t, repo.UpdateStepExecution(ctx, se))

	loaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	require.Len(t, loaded.StepExecutions, 1)
	assert.Equal(t, 100, loaded.StepExecutions[0].ReadPosition())
	assert.Same(t, loaded, loaded.StepExecutions[0].JobExecution)

	_, err = repo.FindJobExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func TestSaveJobInstanceRejectsDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	instance := newInstance(t, repo, "job")

	dup, err := model.NewJobInstance("job", instance.Parameters)
	require.NoError(t, err)
	assert.Error(t, repo.SaveJobInstance(ctx, dup))

	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "job", instance.Parameters)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, found.ID)

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job"}, names)
}
