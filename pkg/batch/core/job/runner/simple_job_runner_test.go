package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	runner "github.com/tigerroll/chunkflow/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	inmemory "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
)

// funcStep runs fn as its body and completes.
type funcStep struct {
	fn func(ctx context.Context, je *model.JobExecution)
}

func (s *funcStep) StepName() string { return "step" }

func (s *funcStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	se.MarkAsStarted()
	if s.fn != nil {
		s.fn(ctx, je)
	}
	se.MarkAsCompleted()
	return nil
}

func newExecution(t *testing.T, repo *inmemory.InMemoryJobRepository) *model.JobExecution {
	t.Helper()
	ctx := context.Background()
	instance, err := model.NewJobInstance("job", model.NewJobParametersBuilder().AddString("inputFile", "a.csv").ToJobParameters())
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(ctx, instance))
	je := model.NewJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	return je
}

func TestSimpleJobRunner_CompletesJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	je := newExecution(t, repo)
	r := runner.NewSimpleJobRunner(repo, nil, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())

	r.Run(context.Background(), job.NewSimpleJob("job", &funcStep{}), je)

	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	require.Len(t, stored.StepExecutions, 1)
	assert.Equal(t, model.BatchStatusCompleted, stored.StepExecutions[0].Status)
}

func TestSimpleJobRunner_KeepsStatusEndedByAnotherWriter(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	je := newExecution(t, repo)
	r := runner.NewSimpleJobRunner(repo, nil, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())

	step := &funcStep{fn: func(ctx context.Context, running *model.JobExecution) {
		other, err := repo.FindJobExecutionByID(ctx, running.ID)
		require.NoError(t, err)
		require.NoError(t, other.MarkAsStopped())
		require.NoError(t, repo.UpdateJobExecution(ctx, other))
	}}

	r.Run(context.Background(), job.NewSimpleJob("job", step), je)

	stored, err := repo.FindJobExecutionByID(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
}
