package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// executionHandle tracks an execution running in this process.
type executionHandle struct {
	stop *atomic.Bool
	done chan struct{}
}

// StopRequested implements port.StopSignal.
func (h *executionHandle) StopRequested() bool {
	return h.stop.Load()
}

// SimpleJobLauncher implements JobLauncher for local, asynchronous execution.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	registry      *job.Registry
	jobRunner     port.JobRunner

	mu     sync.Mutex
	active map[string]*executionHandle
	wg     sync.WaitGroup
}

// NewSimpleJobLauncher creates a new SimpleJobLauncher.
func NewSimpleJobLauncher(repo repository.JobRepository, registry *job.Registry, runner port.JobRunner) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository: repo,
		registry:      registry,
		jobRunner:     runner,
		active:        make(map[string]*executionHandle),
	}
}

// Launch launches a job execution.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, jobParameters model.JobParameters) (*model.JobExecution, error) {
	const op = "JobLauncher"
	logger.Infof("Launching Job '%s' using JobLauncher. Parameters: %s", jobName, jobParameters.String())

	jobDef, err := l.registry.Get(jobName)
	if err != nil {
		return nil, err
	}
	if err := jobDef.ValidateParameters(jobParameters); err != nil {
		logger.Errorf("Job '%s': JobParameters validation failed: %v", jobName, err)
		return nil, err
	}

	instance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, jobParameters)
	if err != nil && !errors.Is(err, exception.ErrNotFound) {
		return nil, exception.NewBatchError(op, "Failed to search for existing JobInstance", err, false, false)
	}

	if instance == nil {
		instance, err = l.createInstance(ctx, jobName, jobParameters)
		if err != nil {
			return nil, err
		}
	} else {
		latest, err := l.jobRepository.FindLatestJobExecution(ctx, instance.ID)
		if err != nil && !errors.Is(err, exception.ErrNotFound) {
			return nil, exception.NewBatchError(op, "Failed to search for the latest JobExecution", err, false, false)
		}
		if latest != nil {
			switch {
			case latest.Status.IsRunning():
				return nil, exception.NewAlreadyRunningError(op,
					fmt.Sprintf("JobExecution (ID: %s, Status: %s) is already running for Job '%s' with these parameters", latest.ID, latest.Status, jobName))
			case latest.Status == model.BatchStatusCompleted:
				return nil, exception.NewAlreadyCompleteError(op,
					fmt.Sprintf("JobInstance (ID: %s) of Job '%s' already completed in JobExecution (ID: %s). Launch with different parameters to run it again", instance.ID, jobName, latest.ID))
			case latest.Status.IsRestartable():
				logger.Infof("JobLauncher: Previous JobExecution (ID: %s) ended %s. Resuming it.", latest.ID, latest.Status)
				return l.launchRestart(ctx, jobDef, instance, latest)
			}
		}
	}

	jobExecution := model.NewJobExecution(instance)
	if err := l.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("Failed to persist JobExecution (ID: %s) initially: %v", jobExecution.ID, err)
		if errors.Is(err, exception.ErrAlreadyRunning) {
			return nil, err
		}
		return nil, exception.NewBatchError(op, "Failed to save JobExecution", err, false, false)
	}

	l.start(ctx, jobDef, jobExecution)
	return jobExecution, nil
}

// createInstance saves a new JobInstance. A concurrent launch may have created the same
// instance first, in which case that one is returned.
func (l *SimpleJobLauncher) createInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	instance, err := model.NewJobInstance(jobName, params)
	if err != nil {
		return nil, err
	}
	if err := l.jobRepository.SaveJobInstance(ctx, instance); err != nil {
		existing, findErr := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
		if findErr != nil {
			return nil, exception.NewBatchError("JobLauncher", fmt.Sprintf("Failed to save new JobInstance for '%s'", jobName), err, false, false)
		}
		return existing, nil
	}
	logger.Infof("Created and saved new JobInstance (ID: %s, JobName: %s).", instance.ID, jobName)
	return instance, nil
}

// launchRestart creates and starts the execution that resumes previous.
func (l *SimpleJobLauncher) launchRestart(ctx context.Context, jobDef port.Job, instance *model.JobInstance, previous *model.JobExecution) (*model.JobExecution, error) {
	jobExecution := model.NewJobExecution(instance)
	jobExecution.Parameters = previous.Parameters
	jobExecution.ExecutionContext = previous.ExecutionContext.Copy()
	jobExecution.RestartCount = previous.RestartCount + 1
	jobExecution.CurrentStepName = previous.CurrentStepName

	if err := l.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		if errors.Is(err, exception.ErrAlreadyRunning) {
			return nil, err
		}
		return nil, exception.NewBatchError("JobLauncher", "Failed to save restart JobExecution", err, false, false)
	}
	for _, prev := range previous.StepExecutions {
		se := prev.CopyForRestart(jobExecution)
		if err := l.jobRepository.SaveStepExecution(ctx, se); err != nil {
			l.failBeforeStart(ctx, jobExecution, err)
			return nil, exception.NewBatchError("JobLauncher", "Failed to save restarted StepExecution", err, false, false)
		}
	}
	logger.Infof("Created restart JobExecution (ID: %s) for JobExecution (ID: %s). Restart Count: %d", jobExecution.ID, previous.ID, jobExecution.RestartCount)

	l.start(ctx, jobDef, jobExecution)
	return jobExecution, nil
}

// failBeforeStart marks an execution that could not be started as FAILED so it does not
// block its instance.
func (l *SimpleJobLauncher) failBeforeStart(ctx context.Context, jobExecution *model.JobExecution, cause error) {
	if err := jobExecution.MarkAsFailed(cause); err != nil {
		logger.Errorf("JobLauncher: %v", err)
		return
	}
	if err := l.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("JobLauncher: Failed to mark JobExecution (ID: %s) as FAILED: %v", jobExecution.ID, err)
	}
}

// start runs the execution in the background. The run outlives the caller's context.
func (l *SimpleJobLauncher) start(ctx context.Context, jobDef port.Job, jobExecution *model.JobExecution) {
	handle := &executionHandle{stop: atomic.NewBool(false), done: make(chan struct{})}
	l.mu.Lock()
	l.active[jobExecution.ID] = handle
	l.mu.Unlock()

	runCtx := port.WithStopSignal(context.WithoutCancel(ctx), handle)
	// The runner owns this copy; the caller keeps the returned snapshot.
	running := jobExecution.Clone()

	logger.Infof("Starting launch process for Job '%s' (Execution ID: %s, Job Instance ID: %s).", jobDef.JobName(), jobExecution.ID, jobExecution.JobInstanceID)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.active, jobExecution.ID)
			l.mu.Unlock()
			close(handle.done)
		}()
		l.jobRunner.Run(runCtx, jobDef, running)
	}()
}

// RequestStop raises the stop flag of a locally running execution.
func (l *SimpleJobLauncher) RequestStop(executionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	handle, ok := l.active[executionID]
	if !ok {
		return false
	}
	handle.stop.Store(true)
	logger.Debugf("JobLauncher: Raised stop flag for JobExecution (ID: %s).", executionID)
	return true
}

// Await blocks until a locally running execution finishes and returns its persisted state.
func (l *SimpleJobLauncher) Await(ctx context.Context, executionID string) (*model.JobExecution, error) {
	l.mu.Lock()
	handle, ok := l.active[executionID]
	l.mu.Unlock()
	if ok {
		select {
		case <-handle.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.jobRepository.FindJobExecutionByID(ctx, executionID)
}

// Shutdown raises the stop flag of every local execution and waits for them to finish.
func (l *SimpleJobLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	for id, handle := range l.active {
		logger.Infof("JobLauncher: Stopping JobExecution (ID: %s) for shutdown.", id)
		handle.stop.Store(true)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)
