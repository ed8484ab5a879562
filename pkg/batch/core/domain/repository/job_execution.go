package repository

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// JobExecution defines operations for persisting and retrieving job executions.
type JobExecution interface {
	// SaveJobExecution persists a new JobExecution. It is the check-and-set that guards the
	// one-running-execution-per-instance rule: if another execution of the same instance is
	// STARTING, STARTED or STOPPING the save fails with exception.ErrAlreadyRunning and nothing
	// is written.
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecution updates the state of an existing JobExecution. The update is rejected
	// with exception.ErrOptimisticLockingFailure if the stored version differs.
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// FindJobExecutionByID finds a JobExecution, including its StepExecutions.
	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)

	// FindLatestJobExecution finds the most recently started execution of an instance.
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)

	// FindJobExecutionsByJobInstance finds all executions of an instance, newest first.
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error)

	// FindRecentJobExecutions returns up to limit executions, newest first.
	FindRecentJobExecutions(ctx context.Context, limit int) ([]*model.JobExecution, error)

	// FindJobExecutionsByJobName returns up to limit executions of a job, newest first.
	// A limit <= 0 returns all of them.
	FindJobExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobExecution, error)

	// FindRunningJobExecutions returns every non-terminal execution, newest first.
	FindRunningJobExecutions(ctx context.Context) ([]*model.JobExecution, error)

	// CountJobExecutions counts executions, optionally restricted to a job name and statuses.
	CountJobExecutions(ctx context.Context, jobName string, statuses ...model.JobStatus) (int64, error)
}
