package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	runner "github.com/tigerroll/chunkflow/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	inmemory "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// gatedStep runs "chunks" until released, honouring stop requests between them.
type gatedStep struct {
	name      string
	release   chan struct{}
	started   chan string
	failFirst *atomic.Int32
	chunks    *atomic.Int32
}

func newGatedStep(name string) *gatedStep {
	return &gatedStep{
		name:      name,
		release:   make(chan struct{}),
		started:   make(chan string, 10),
		failFirst: atomic.NewInt32(0),
		chunks:    atomic.NewInt32(0),
	}
}

func (s *gatedStep) StepName() string { return s.name }

func (s *gatedStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	se.MarkAsStarted()
	s.started <- je.ID
	for {
		select {
		case <-s.release:
			if s.failFirst.Dec() >= 0 {
				err := errors.New("sink unavailable")
				se.MarkAsFailed(err)
				return err
			}
			se.MarkAsCompleted()
			return nil
		case <-time.After(2 * time.Millisecond):
			s.chunks.Inc()
			se.ExecutionContext.Put(model.ContextKeyReadPosition, int(s.chunks.Load()))
			if port.StopRequested(ctx) {
				se.MarkAsStopped()
				return nil
			}
		}
	}
}

type fixture struct {
	step     *gatedStep
	repo     *inmemory.InMemoryJobRepository
	launcher *usecase.SimpleJobLauncher
	operator *usecase.DefaultJobOperator
	monitor  *usecase.MonitoringService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	step := newGatedStep("csv-to-kafka-step")
	repo := inmemory.NewInMemoryJobRepository()
	registry := job.NewRegistry(job.RegistryParams{Jobs: []port.Job{job.NewSimpleJob("csvToKafkaJob", step)}})
	jobRunner := runner.NewSimpleJobRunner(repo, nil, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
	launcher := usecase.NewSimpleJobLauncher(repo, registry, jobRunner)
	operator := usecase.NewDefaultJobOperator(repo, registry, launcher)
	monitor := usecase.NewMonitoringService(usecase.NewSimpleJobExplorer(repo), operator, repo)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = launcher.Shutdown(ctx)
	})
	return &fixture{step: step, repo: repo, launcher: launcher, operator: operator, monitor: monitor}
}

func params(input string) model.JobParameters {
	return model.NewJobParametersBuilder().
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }).
		AddString("inputFile", input).
		ToJobParameters()
}

func await(t *testing.T, f *fixture, id string) *model.JobExecution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	je, err := f.launcher.Await(ctx, id)
	require.NoError(t, err)
	return je
}

func TestLaunchConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	require.NoError(t, err)
	<-f.step.started

	_, err = f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	assert.ErrorIs(t, err, exception.ErrAlreadyRunning)

	close(f.step.release)
	done := await(t, f, first.ID)
	assert.Equal(t, model.BatchStatusCompleted, done.Status)
	require.NotNil(t, done.EndTime)
	assert.False(t, done.EndTime.Before(done.StartTime))

	_, err = f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	assert.ErrorIs(t, err, exception.ErrAlreadyComplete)

	other, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("b.csv"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, await(t, f, other.ID).Status)
}

func TestLaunchUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.launcher.Launch(context.Background(), "nope", params("a.csv"))
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func TestConcurrentLaunchesAdmitOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var admitted atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
			if err == nil {
				admitted.Inc()
				return
			}
			assert.ErrorIs(t, err, exception.ErrAlreadyRunning)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
	close(f.step.release)
}

func TestStopNonRunningExecutionReturnsFalse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	close(f.step.release)

	je, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	require.NoError(t, err)
	done := await(t, f, je.ID)

	stopped, err := f.operator.Stop(ctx, je.ID)
	require.NoError(t, err)
	assert.False(t, stopped)

	after, err := f.repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Version, after.Version)
	assert.Equal(t, model.BatchStatusCompleted, after.Status)

	_, err = f.operator.Stop(ctx, "unknown")
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func TestStopRunningExecutionEndsStopped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	je, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	require.NoError(t, err)
	<-f.step.started

	stopped, err := f.operator.Stop(ctx, je.ID)
	require.NoError(t, err)
	assert.True(t, stopped)

	final := await(t, f, je.ID)
	assert.Equal(t, model.BatchStatusStopped, final.Status)
	assert.NotNil(t, final.EndTime)
	require.Len(t, final.StepExecutions, 1)
	assert.Equal(t, model.BatchStatusStopped, final.StepExecutions[0].Status)
}

// An execution left running by a process that died has no local runner to stop it.
func TestStopExecutionWithoutLocalRunnerReleasesInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	instance, err := model.NewJobInstance("csvToKafkaJob", params("a.csv"))
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveJobInstance(ctx, instance))
	orphan := model.NewJobExecution(instance)
	require.NoError(t, orphan.MarkAsStarted())
	require.NoError(t, f.repo.SaveJobExecution(ctx, orphan))
	se := model.NewStepExecution(orphan, "csv-to-kafka-step")
	se.MarkAsStarted()
	require.NoError(t, f.repo.SaveStepExecution(ctx, se))

	_, err = f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	require.ErrorIs(t, err, exception.ErrAlreadyRunning)

	stopped, err := f.operator.Stop(ctx, orphan.ID)
	require.NoError(t, err)
	assert.True(t, stopped)

	after, err := f.repo.FindJobExecutionByID(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, after.Status)
	assert.NotNil(t, after.EndTime)
	require.Len(t, after.StepExecutions, 1)
	assert.Equal(t, model.BatchStatusStopped, after.StepExecutions[0].Status)

	close(f.step.release)
	restarted, err := f.operator.Restart(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, await(t, f, restarted.ID).Status)
}

func TestRestartResumesStoppedExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	je, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	require.NoError(t, err)
	<-f.step.started
	_, err = f.operator.Stop(ctx, je.ID)
	require.NoError(t, err)
	stopped := await(t, f, je.ID)
	position := stopped.StepExecutions[0].ReadPosition()
	assert.Positive(t, position)

	close(f.step.release)
	restarted, err := f.operator.Restart(ctx, je.ID)
	require.NoError(t, err)
	assert.NotEqual(t, je.ID, restarted.ID)
	assert.Equal(t, je.JobInstanceID, restarted.JobInstanceID)
	assert.Equal(t, 1, restarted.RestartCount)

	final := await(t, f, restarted.ID)
	assert.Equal(t, model.BatchStatusCompleted, final.Status)
	require.Len(t, final.StepExecutions, 1)
	assert.GreaterOrEqual(t, final.StepExecutions[0].ReadPosition(), position)

	_, err = f.operator.Restart(ctx, restarted.ID)
	assert.ErrorIs(t, err, exception.ErrNotRestartable)
	_, err = f.operator.Restart(ctx, je.ID)
	assert.ErrorIs(t, err, exception.ErrNotRestartable)
}

func TestFailedStepFailsJobAndRelaunchResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.step.failFirst.Store(1)
	close(f.step.release)

	je, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	require.NoError(t, err)
	failed := await(t, f, je.ID)
	assert.Equal(t, model.BatchStatusFailed, failed.Status)
	assert.Contains(t, failed.Failures, "sink unavailable")

	again, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, again.RestartCount)
	assert.Equal(t, model.BatchStatusCompleted, await(t, f, again.ID).Status)
}

func TestMonitoringStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.monitor.GetBatchStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, usecase.BatchStats{}, stats)

	recent, err := f.monitor.GetRecentJobExecutions(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, recent)

	je, err := f.launcher.Launch(ctx, "csvToKafkaJob", params("a.csv"))
	require.NoError(t, err)
	<-f.step.started

	stats, err = f.monitor.GetBatchStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, usecase.BatchStats{TotalJobs: 1, RunningJobs: 1}, stats)

	running, err := f.monitor.GetRunningJobExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, je.ID, running[0].ExecutionID)

	close(f.step.release)
	await(t, f, je.ID)

	jobStats, err := f.monitor.GetJobStatistics(ctx, "csvToKafkaJob")
	require.NoError(t, err)
	assert.Equal(t, usecase.JobStats{JobName: "csvToKafkaJob", TotalExecutions: 1, SuccessfulExecutions: 1}, jobStats)

	summary, err := f.monitor.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, summary.Status)
	assert.NotEmpty(t, summary.Duration)

	_, err = f.monitor.GetJobExecution(ctx, "missing")
	assert.ErrorIs(t, err, exception.ErrNotFound)
}
