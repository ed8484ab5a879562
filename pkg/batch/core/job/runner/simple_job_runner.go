package runner

import (
	"context"
	"errors"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// maxUpdateAttempts bounds the reload-and-retry loop on optimistic locking conflicts.
const maxUpdateAttempts = 3

// errStopped ends the step loop when a stop was requested.
var errStopped = errors.New("job execution stopped")

// SimpleJobRunner executes a job's steps in order and drives the JobExecution state machine.
type SimpleJobRunner struct {
	jobRepository  repository.JobRepository
	jobListeners   []port.JobExecutionListener
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// NewSimpleJobRunner creates a SimpleJobRunner.
func NewSimpleJobRunner(
	repo repository.JobRepository,
	listeners []port.JobExecutionListener,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *SimpleJobRunner {
	return &SimpleJobRunner{
		jobRepository:  repo,
		jobListeners:   listeners,
		metricRecorder: recorder,
		tracer:         tracer,
	}
}

// Run executes job for jobExecution and persists its terminal state before returning.
func (r *SimpleJobRunner) Run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) {
	ctx, finishSpan := r.tracer.StartJobSpan(ctx, jobExecution)
	defer finishSpan()

	logger.Infof("Starting Job '%s' (Execution ID: %s).", job.JobName(), jobExecution.ID)

	if jobExecution.Status == model.BatchStatusStarting {
		if err := jobExecution.MarkAsStarted(); err != nil {
			logger.Errorf("JobRunner: Failed to mark JobExecution (ID: %s) as STARTED: %v", jobExecution.ID, err)
		}
		if err := r.updateJobExecution(ctx, jobExecution); err != nil {
			logger.Errorf("JobRunner: Failed to update JobExecution (ID: %s) status to STARTED: %v", jobExecution.ID, err)
		}
	}

	r.metricRecorder.RecordJobStart(ctx, jobExecution)
	for _, l := range r.jobListeners {
		l.BeforeJob(ctx, jobExecution)
	}

	err := r.executeSteps(ctx, job, jobExecution)
	r.finish(ctx, jobExecution, err)

	if updateErr := r.updateJobExecution(ctx, jobExecution); updateErr != nil {
		logger.Errorf("JobRunner: Failed to update final JobExecution (ID: %s) state: %v", jobExecution.ID, updateErr)
	}

	r.metricRecorder.RecordJobEnd(ctx, jobExecution)
	for _, l := range r.jobListeners {
		l.AfterJob(ctx, jobExecution)
	}

	logger.Infof("Job '%s' (Execution ID: %s) finished. Final Status: %s, Exit Status: %s",
		job.JobName(), jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
}

// finish moves jobExecution to its terminal status given the outcome of the step loop.
func (r *SimpleJobRunner) finish(ctx context.Context, jobExecution *model.JobExecution, err error) {
	var transitionErr error
	switch {
	case errors.Is(err, errStopped), errors.Is(err, context.Canceled):
		logger.Infof("JobRunner: JobExecution (ID: %s) stopped at a chunk boundary.", jobExecution.ID)
		transitionErr = jobExecution.MarkAsStopped()
	case err != nil:
		r.tracer.RecordError(ctx, "job_runner", err)
		transitionErr = jobExecution.MarkAsFailed(err)
	default:
		transitionErr = jobExecution.MarkAsCompleted()
	}
	if transitionErr != nil {
		logger.Errorf("JobRunner: %v", transitionErr)
	}
}

func (r *SimpleJobRunner) stopRequested(ctx context.Context, jobExecution *model.JobExecution) bool {
	return port.StopRequested(ctx) || jobExecution.Status == model.BatchStatusStopping
}

func (r *SimpleJobRunner) executeSteps(ctx context.Context, job port.Job, jobExecution *model.JobExecution) error {
	for _, step := range job.Steps() {
		stepName := step.StepName()

		stepExecution := jobExecution.FindStepExecution(stepName)
		if stepExecution != nil && stepExecution.Status == model.BatchStatusCompleted {
			logger.Infof("Job '%s': Step '%s' (ID: %s) already completed. Skipping execution.", job.JobName(), stepName, stepExecution.ID)
			continue
		}

		if r.stopRequested(ctx, jobExecution) {
			return errStopped
		}

		if stepExecution == nil {
			stepExecution = model.NewStepExecution(jobExecution, stepName)
			if err := r.jobRepository.SaveStepExecution(ctx, stepExecution); err != nil {
				return exception.NewBatchError(job.JobName(), "Error saving new StepExecution", err, false, false)
			}
			logger.Debugf("Job '%s': Created and saved new StepExecution (ID: %s).", job.JobName(), stepExecution.ID)
		} else {
			logger.Infof("Job '%s': Resuming step '%s' (StepExecution ID: %s) from read position %d.",
				job.JobName(), stepName, stepExecution.ID, stepExecution.ReadPosition())
		}

		jobExecution.CurrentStepName = stepName
		if err := r.updateJobExecution(ctx, jobExecution); err != nil {
			return exception.NewBatchError(job.JobName(), "Error updating JobExecution", err, false, false)
		}

		stepCtx, finishSpan := r.tracer.StartStepSpan(port.GetContextWithStepExecution(ctx, stepExecution), stepExecution)
		r.metricRecorder.RecordStepStart(stepCtx, stepExecution)
		err := step.Execute(stepCtx, jobExecution, stepExecution)
		r.metricRecorder.RecordStepEnd(stepCtx, stepExecution)
		finishSpan()

		if updateErr := r.jobRepository.UpdateStepExecution(ctx, stepExecution); updateErr != nil {
			logger.Errorf("Job '%s': Failed to update StepExecution (ID: %s): %v", job.JobName(), stepExecution.ID, updateErr)
		}

		if err != nil {
			logger.Errorf("Job '%s': Error occurred during execution of step '%s': %v", job.JobName(), stepName, err)
			return err
		}
		if stepExecution.Status == model.BatchStatusStopped {
			return errStopped
		}
		logger.Infof("Job '%s': Step '%s' completed. Read: %d, Written: %d, Commits: %d",
			job.JobName(), stepName, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.CommitCount)
	}
	return nil
}

// updateJobExecution persists jobExecution. On a version conflict it reloads the stored row,
// adopts a STOPPING written by a concurrent stop request, and retries. A row another writer
// already finished is never overwritten.
func (r *SimpleJobRunner) updateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err = r.jobRepository.UpdateJobExecution(ctx, jobExecution)
		if err == nil || !exception.IsOptimisticLockingFailure(err) {
			return err
		}
		stored, findErr := r.jobRepository.FindJobExecutionByID(ctx, jobExecution.ID)
		if findErr != nil {
			return errors.Join(err, findErr)
		}
		if stored.Status.IsFinished() {
			return exception.NewBatchError("JobRunner",
				fmt.Sprintf("JobExecution (ID: %s) was already ended %s by another writer", jobExecution.ID, stored.Status), err, false, false)
		}
		if stored.Status == model.BatchStatusStopping && jobExecution.Status == model.BatchStatusStarted {
			logger.Infof("JobRunner: Stop requested for JobExecution (ID: %s).", jobExecution.ID)
			if tErr := jobExecution.MarkAsStopping(); tErr != nil {
				return tErr
			}
		}
		jobExecution.Version = stored.Version
	}
	return err
}

var _ port.JobRunner = (*SimpleJobRunner)(nil)
