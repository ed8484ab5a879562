package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// JobInstance is the logical identity of a job run: a job name plus its parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance creates a new instance of JobInstance.
func NewJobInstance(jobName string, params JobParameters) (*JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: hash,
		CreateTime:     time.Now(),
	}, nil
}

// JobExecution is one run of a JobInstance.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	Status           JobStatus
	ExitStatus       ExitStatus
	StartTime        time.Time
	EndTime          *time.Time
	CreateTime       time.Time
	LastUpdated      time.Time
	Failures         FailureList
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CurrentStepName  string
	RestartCount     int
	Version          int
}

// NewJobExecution creates a JobExecution in STARTING.
func NewJobExecution(instance *JobInstance) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    instance.ID,
		JobName:          instance.JobName,
		Parameters:       instance.Parameters,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		StartTime:        now,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         make(FailureList, 0),
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: NewExecutionContext(),
	}
}

// TransitionTo changes Status if the transition is legal. EndTime is set on entering a terminal state.
func (je *JobExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidTransition(je.Status, newStatus) {
		return exception.NewBatchError("JobExecution",
			fmt.Sprintf("invalid state transition for JobExecution (ID: %s): %s -> %s", je.ID, je.Status, newStatus),
			exception.ErrInvalidArgument, false, false)
	}
	now := time.Now()
	je.Status = newStatus
	je.LastUpdated = now
	if newStatus.IsFinished() {
		je.ExitStatus = newStatus.ToExitStatus()
		if now.Before(je.StartTime) {
			now = je.StartTime
		}
		je.EndTime = &now
	} else if newStatus == BatchStatusStarted {
		je.ExitStatus = ExitStatusExecuting
	}
	return nil
}

// MarkAsStarted moves the execution to STARTED.
func (je *JobExecution) MarkAsStarted() error {
	return je.TransitionTo(BatchStatusStarted)
}

// MarkAsStopping records a stop request.
func (je *JobExecution) MarkAsStopping() error {
	return je.TransitionTo(BatchStatusStopping)
}

// MarkAsCompleted moves the execution to COMPLETED.
func (je *JobExecution) MarkAsCompleted() error {
	return je.TransitionTo(BatchStatusCompleted)
}

// MarkAsStopped moves the execution to STOPPED.
func (je *JobExecution) MarkAsStopped() error {
	return je.TransitionTo(BatchStatusStopped)
}

// MarkAsFailed moves the execution to FAILED and records the cause.
func (je *JobExecution) MarkAsFailed(err error) error {
	je.AddFailureException(err)
	return je.TransitionTo(BatchStatusFailed)
}

// AddFailureException records err once.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	msg := exception.ExtractErrorMessage(err)
	for _, existing := range je.Failures {
		if existing == msg {
			logger.Debugf("Skipped adding duplicate error '%s' to JobExecution (ID: %s).", msg, je.ID)
			return
		}
	}
	je.Failures = append(je.Failures, msg)
	je.LastUpdated = time.Now()
}

// AddStepExecution appends a step execution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecutionID = je.ID
	se.JobExecution = je
	je.StepExecutions = append(je.StepExecutions, se)
}

// FindStepExecution returns the step execution with the given name, or nil.
func (je *JobExecution) FindStepExecution(stepName string) *StepExecution {
	for _, se := range je.StepExecutions {
		if se.StepName == stepName {
			return se
		}
	}
	return nil
}

// Duration returns the elapsed time, up to now for running executions.
func (je *JobExecution) Duration() time.Duration {
	if je.EndTime != nil {
		return je.EndTime.Sub(je.StartTime)
	}
	return time.Since(je.StartTime)
}

// Clone returns a deep enough copy for repositories to hand out without sharing mutable state.
func (je *JobExecution) Clone() *JobExecution {
	if je == nil {
		return nil
	}
	c := *je
	if je.EndTime != nil {
		end := *je.EndTime
		c.EndTime = &end
	}
	c.Failures = append(FailureList(nil), je.Failures...)
	c.ExecutionContext = je.ExecutionContext.Copy()
	c.StepExecutions = make([]*StepExecution, 0, len(je.StepExecutions))
	for _, se := range je.StepExecutions {
		sc := se.Clone()
		sc.JobExecution = &c
		c.StepExecutions = append(c.StepExecutions, sc)
	}
	return &c
}
