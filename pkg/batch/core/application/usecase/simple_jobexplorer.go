package usecase

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SimpleJobExplorer queries batch metadata using a JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

// Verify that SimpleJobExplorer implements the JobExplorer interface.
var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a new instance of SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository}
}

// GetJobExecution retrieves a JobExecution by its ID.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecution method called. Execution ID: %s", executionID)
	return e.jobRepository.FindJobExecutionByID(ctx, executionID)
}

// GetRecentJobExecutions returns up to count executions, newest first.
func (e *SimpleJobExplorer) GetRecentJobExecutions(ctx context.Context, count int) ([]*model.JobExecution, error) {
	if count <= 0 {
		return nil, exception.NewInvalidArgumentError("JobExplorer", "count must be positive")
	}
	return e.jobRepository.FindRecentJobExecutions(ctx, count)
}

// GetJobExecutionsByJobName returns up to count executions of a job, newest first.
func (e *SimpleJobExplorer) GetJobExecutionsByJobName(ctx context.Context, jobName string, count int) ([]*model.JobExecution, error) {
	if count <= 0 {
		return nil, exception.NewInvalidArgumentError("JobExplorer", "count must be positive")
	}
	return e.jobRepository.FindJobExecutionsByJobName(ctx, jobName, count)
}

// GetRunningJobExecutions returns the non-terminal executions, newest first.
func (e *SimpleJobExplorer) GetRunningJobExecutions(ctx context.Context) ([]*model.JobExecution, error) {
	return e.jobRepository.FindRunningJobExecutions(ctx)
}

// GetJobNames returns the names of every job that ever ran.
func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	return e.jobRepository.GetJobNames(ctx)
}
