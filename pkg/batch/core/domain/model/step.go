package model

import (
	"fmt"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Execution context keys written by chunk steps.
const (
	// ContextKeyReadPosition is the number of records consumed by committed chunks.
	ContextKeyReadPosition = "chunk.read.position"
	// ContextKeyPartitionOffset and ContextKeyPartitionLimit describe a partition's range.
	ContextKeyPartitionOffset = "partition.offset"
	ContextKeyPartitionLimit  = "partition.limit"
	ContextKeyPartitionLabel  = "partition.label"
)

// StepExecution is one run of a step inside a JobExecution.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecutionID   string
	JobExecution     *JobExecution
	Status           JobStatus
	ExitStatus       ExitStatus
	StartTime        time.Time
	EndTime          *time.Time
	Failures         FailureList
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution creates a StepExecution in STARTING and attaches it to jobExecution.
func NewStepExecution(jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		StartTime:        now,
		Failures:         make(FailureList, 0),
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
	jobExecution.AddStepExecution(se)
	return se
}

// CopyForRestart creates the step execution that resumes se in a new job execution.
// Completed steps keep their counts and status so the runner skips them. Others restart from
// STARTING with their execution context, which carries the committed read position.
func (se *StepExecution) CopyForRestart(jobExecution *JobExecution) *StepExecution {
	newSE := &StepExecution{
		ID:               NewID(),
		StepName:         se.StepName,
		Failures:         make(FailureList, 0),
		ExecutionContext: se.ExecutionContext.Copy(),
		LastUpdated:      time.Now(),
	}
	if se.Status == BatchStatusCompleted {
		newSE.Status = BatchStatusCompleted
		newSE.ExitStatus = se.ExitStatus
		newSE.StartTime = se.StartTime
		newSE.EndTime = se.EndTime
		newSE.ReadCount = se.ReadCount
		newSE.WriteCount = se.WriteCount
		newSE.CommitCount = se.CommitCount
		newSE.RollbackCount = se.RollbackCount
	} else {
		newSE.Status = BatchStatusStarting
		newSE.ExitStatus = ExitStatusUnknown
		newSE.StartTime = time.Now()
	}
	jobExecution.AddStepExecution(newSE)
	return newSE
}

// TransitionTo changes Status if the transition is legal. EndTime is set on entering a terminal state.
func (se *StepExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidTransition(se.Status, newStatus) {
		return exception.NewBatchError("StepExecution",
			fmt.Sprintf("invalid state transition for StepExecution (ID: %s): %s -> %s", se.ID, se.Status, newStatus),
			exception.ErrInvalidArgument, false, false)
	}
	now := time.Now()
	se.Status = newStatus
	se.LastUpdated = now
	if newStatus.IsFinished() {
		se.ExitStatus = newStatus.ToExitStatus()
		se.EndTime = &now
	} else if newStatus == BatchStatusStarted {
		se.ExitStatus = ExitStatusExecuting
	}
	return nil
}

// MarkAsStarted moves the step to STARTED.
func (se *StepExecution) MarkAsStarted() {
	if err := se.TransitionTo(BatchStatusStarted); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to STARTED: %v", se.ID, err)
	}
}

// MarkAsCompleted moves the step to COMPLETED.
func (se *StepExecution) MarkAsCompleted() {
	if err := se.TransitionTo(BatchStatusCompleted); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to COMPLETED: %v", se.ID, err)
	}
}

// MarkAsStopped moves the step to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	if err := se.TransitionTo(BatchStatusStopped); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to STOPPED: %v", se.ID, err)
	}
}

// MarkAsFailed moves the step to FAILED and records the cause.
func (se *StepExecution) MarkAsFailed(err error) {
	se.AddFailureException(err)
	if err := se.TransitionTo(BatchStatusFailed); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to FAILED: %v", se.ID, err)
	}
}

// AddFailureException records err once.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	msg := exception.ExtractErrorMessage(err)
	for _, existing := range se.Failures {
		if existing == msg {
			return
		}
	}
	se.Failures = append(se.Failures, msg)
	se.LastUpdated = time.Now()
}

// ReadPosition returns the committed read position stored in the execution context.
func (se *StepExecution) ReadPosition() int {
	pos, _ := se.ExecutionContext.GetInt(ContextKeyReadPosition)
	return pos
}

// Clone copies se without its JobExecution back-reference.
func (se *StepExecution) Clone() *StepExecution {
	c := *se
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	c.Failures = append(FailureList(nil), se.Failures...)
	c.ExecutionContext = se.ExecutionContext.Copy()
	c.JobExecution = nil
	return &c
}
