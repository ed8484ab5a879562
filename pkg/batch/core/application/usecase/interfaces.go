package usecase

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// JobLauncher launches jobs.
type JobLauncher interface {
	// Launch starts jobName with params and returns the new execution without waiting for it.
	// It fails with exception.ErrAlreadyRunning when an execution with the same identity is
	// not terminal and with exception.ErrAlreadyComplete when one completed.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
}

// JobOperator performs control operations on executions.
type JobOperator interface {
	// Stop asks a running execution to halt at its next chunk boundary. It returns false,
	// without changing anything, when the execution is not running.
	Stop(ctx context.Context, executionID string) (bool, error)

	// Restart creates a new execution of a FAILED or STOPPED execution's job instance that
	// resumes from the last persisted position.
	Restart(ctx context.Context, executionID string) (*model.JobExecution, error)
}

// JobExplorer is the read side of the job repository.
type JobExplorer interface {
	// GetJobExecution fails with exception.ErrNotFound for an unknown id.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)
	// GetRecentJobExecutions returns up to count executions, newest first.
	GetRecentJobExecutions(ctx context.Context, count int) ([]*model.JobExecution, error)
	// GetJobExecutionsByJobName returns up to count executions of a job, newest first.
	GetJobExecutionsByJobName(ctx context.Context, jobName string, count int) ([]*model.JobExecution, error)
	// GetRunningJobExecutions returns the non-terminal executions, newest first.
	GetRunningJobExecutions(ctx context.Context) ([]*model.JobExecution, error)
	// GetJobNames returns the names of every job that ever ran.
	GetJobNames(ctx context.Context) ([]string, error)
}

// JobExecutionSummary is the projection of a JobExecution served to operators.
type JobExecutionSummary struct {
	ExecutionID string           `json:"executionId"`
	JobName     string           `json:"jobName"`
	Status      model.JobStatus  `json:"status"`
	ExitStatus  model.ExitStatus `json:"exitStatus"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	Duration    string           `json:"duration,omitempty"`
	Failures    []string         `json:"failures,omitempty"`
}

// BatchStats summarises the whole job repository.
type BatchStats struct {
	TotalJobs   int `json:"totalJobs"`
	RunningJobs int `json:"runningJobs"`
}

// JobStats summarises the executions of one job.
type JobStats struct {
	JobName              string `json:"jobName"`
	TotalExecutions      int64  `json:"totalExecutions"`
	SuccessfulExecutions int64  `json:"successfulExecutions"`
	FailedExecutions     int64  `json:"failedExecutions"`
}
