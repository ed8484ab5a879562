package usecase

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// maxStopAttempts bounds retries of the STOPPING update against a concurrently updating runner.
const maxStopAttempts = 3

// DefaultJobOperator is the default implementation of the JobOperator interface.
type DefaultJobOperator struct {
	jobRepository repository.JobRepository
	registry      *job.Registry
	jobLauncher   *SimpleJobLauncher
}

// Verify that DefaultJobOperator implements the JobOperator interface.
var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a new instance of DefaultJobOperator.
func NewDefaultJobOperator(jobRepository repository.JobRepository, registry *job.Registry, launcher *SimpleJobLauncher) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: jobRepository,
		registry:      registry,
		jobLauncher:   launcher,
	}
}

// Stop records STOPPING for a running execution and signals its local runner. An execution
// with no runner in this process is marked STOPPED directly.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) (bool, error) {
	logger.Infof("JobOperator: Stop method called. Execution ID: %s", executionID)

	for attempt := 0; attempt < maxStopAttempts; attempt++ {
		jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
		if err != nil {
			return false, err
		}
		if !jobExecution.Status.IsRunning() {
			logger.Infof("JobExecution (ID: %s) is not running (status: %s). Nothing to stop.", executionID, jobExecution.Status)
			return false, nil
		}
		if jobExecution.Status != model.BatchStatusStopping {
			if err := jobExecution.MarkAsStopping(); err != nil {
				return false, err
			}
			err = o.jobRepository.UpdateJobExecution(ctx, jobExecution)
			if exception.IsOptimisticLockingFailure(err) {
				logger.Debugf("JobOperator: JobExecution (ID: %s) changed while stopping. Retrying.", executionID)
				continue
			}
			if err != nil {
				return false, exception.NewBatchError("JobOperator", fmt.Sprintf("Stop processing error: Failed to update JobExecution (ID: %s) status", executionID), err, false, false)
			}
			logger.Infof("Updated JobExecution (ID: %s) status to STOPPING.", executionID)
		}

		if !o.jobLauncher.RequestStop(executionID) {
			logger.Warnf("JobExecution (ID: %s) has no runner in this process. Marking it STOPPED.", executionID)
			if err := o.stopUnowned(ctx, jobExecution); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return false, exception.NewOptimisticLockingFailureException("JobOperator",
		fmt.Sprintf("Stop processing error: JobExecution (ID: %s) kept changing", executionID), nil)
}

// stopUnowned ends an execution that no local runner will finish, such as one left running
// by a crashed process. Reaching STOPPED releases its instance for Restart and Launch.
func (o *DefaultJobOperator) stopUnowned(ctx context.Context, jobExecution *model.JobExecution) error {
	if err := jobExecution.MarkAsStopped(); err != nil {
		return err
	}
	err := o.jobRepository.UpdateJobExecution(ctx, jobExecution)
	if exception.IsOptimisticLockingFailure(err) {
		// A runner finished it between the read and the update.
		stored, findErr := o.jobRepository.FindJobExecutionByID(ctx, jobExecution.ID)
		if findErr == nil && !stored.Status.IsRunning() {
			logger.Infof("JobExecution (ID: %s) ended %s before it could be marked STOPPED.", jobExecution.ID, stored.Status)
			return nil
		}
	}
	if err != nil {
		return exception.NewBatchError("JobOperator", fmt.Sprintf("Stop processing error: Failed to mark JobExecution (ID: %s) STOPPED", jobExecution.ID), err, false, false)
	}

	for _, se := range jobExecution.StepExecutions {
		if se.Status.IsFinished() {
			continue
		}
		se.MarkAsStopped()
		if err := o.jobRepository.UpdateStepExecution(ctx, se); err != nil {
			logger.Errorf("JobOperator: Failed to mark StepExecution (ID: %s) STOPPED: %v", se.ID, err)
		}
	}
	logger.Infof("Updated JobExecution (ID: %s) status to STOPPED.", jobExecution.ID)
	return nil
}

// Restart starts a new execution that resumes a FAILED or STOPPED execution.
func (o *DefaultJobOperator) Restart(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Infof("JobOperator: Restart method called. Execution ID: %s", executionID)

	previous, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !previous.Status.IsRestartable() {
		return nil, exception.NewNotRestartableError("JobOperator",
			fmt.Sprintf("JobExecution (ID: %s) is not in a restartable state (current status: %s)", executionID, previous.Status))
	}

	latest, err := o.jobRepository.FindLatestJobExecution(ctx, previous.JobInstanceID)
	if err != nil {
		return nil, err
	}
	if latest.ID != previous.ID {
		return nil, exception.NewNotRestartableError("JobOperator",
			fmt.Sprintf("JobExecution (ID: %s) was superseded by JobExecution (ID: %s, Status: %s)", executionID, latest.ID, latest.Status))
	}

	jobDef, err := o.registry.Get(previous.JobName)
	if err != nil {
		return nil, err
	}
	instance, err := o.jobRepository.FindJobInstanceByID(ctx, previous.JobInstanceID)
	if err != nil {
		return nil, err
	}

	newExecution, err := o.jobLauncher.launchRestart(ctx, jobDef, instance, previous)
	if errors.Is(err, exception.ErrAlreadyRunning) {
		return nil, exception.NewBatchError("JobOperator",
			fmt.Sprintf("JobExecution (ID: %s) cannot be restarted while another execution of its instance runs", executionID),
			errors.Join(exception.ErrNotRestartable, err), false, false)
	}
	if err != nil {
		return nil, err
	}

	logger.Infof("Restart of Job '%s' (Execution ID: %s) started. New execution ID: %s", previous.JobName, executionID, newExecution.ID)
	return newExecution, nil
}
