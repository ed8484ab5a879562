// Package logging provides listeners that log job and step lifecycle events.
package logging

import (
	"context"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// JobCompletionListener logs the outcome and duration of every finished job execution.
type JobCompletionListener struct {
	now func() time.Time
}

// NewJobCompletionListener creates a JobCompletionListener.
func NewJobCompletionListener() *JobCompletionListener {
	return &JobCompletionListener{now: time.Now}
}

// BeforeJob logs the start of a job execution.
func (l *JobCompletionListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("Job '%s' (Execution ID: %s) starting. Parameters: %s", jobExecution.JobName, jobExecution.ID, jobExecution.Parameters.String())
}

// AfterJob logs the terminal status and duration.
func (l *JobCompletionListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	end := l.now()
	if jobExecution.EndTime != nil {
		end = *jobExecution.EndTime
	}
	duration := end.Sub(jobExecution.StartTime)

	switch jobExecution.Status {
	case model.BatchStatusCompleted:
		logger.Infof("Job '%s' (Execution ID: %s) completed in %s.", jobExecution.JobName, jobExecution.ID, duration)
	case model.BatchStatusFailed:
		logger.Errorf("Job '%s' (Execution ID: %s) failed after %s. Failures: %v", jobExecution.JobName, jobExecution.ID, duration, jobExecution.Failures)
	default:
		logger.Warnf("Job '%s' (Execution ID: %s) ended with status %s after %s.", jobExecution.JobName, jobExecution.ID, jobExecution.Status, duration)
	}
	for _, se := range jobExecution.StepExecutions {
		logger.Debugf("  step '%s': status=%s read=%d written=%d commits=%d rollbacks=%d",
			se.StepName, se.Status, se.ReadCount, se.WriteCount, se.CommitCount, se.RollbackCount)
	}
}

var _ port.JobExecutionListener = (*JobCompletionListener)(nil)

// StepLoggingListener logs step boundaries.
type StepLoggingListener struct{}

// NewStepLoggingListener creates a StepLoggingListener.
func NewStepLoggingListener() *StepLoggingListener {
	return &StepLoggingListener{}
}

func (l *StepLoggingListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("Step '%s' (ID: %s) starting at read position %d.", stepExecution.StepName, stepExecution.ID, stepExecution.ReadPosition())
}

func (l *StepLoggingListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("Step '%s' (ID: %s) finished. Status: %s, Read: %d, Written: %d",
		stepExecution.StepName, stepExecution.ID, stepExecution.Status, stepExecution.ReadCount, stepExecution.WriteCount)
}

var _ port.StepExecutionListener = (*StepLoggingListener)(nil)
