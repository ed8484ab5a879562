package sql

import (
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	return &JobInstanceEntity{
		ID:             ji.ID,
		JobName:        ji.JobName,
		Parameters:     ji.Parameters,
		ParametersHash: ji.ParametersHash,
		CreateTime:     ji.CreateTime,
		Version:        ji.Version,
	}
}

func toDomainJobInstance(entity *JobInstanceEntity) *model.JobInstance {
	return &model.JobInstance{
		ID:             entity.ID,
		JobName:        entity.JobName,
		Parameters:     entity.Parameters,
		ParametersHash: entity.ParametersHash,
		CreateTime:     entity.CreateTime,
		Version:        entity.Version,
	}
}

// runningKey returns the value of the running_key column for an execution in status.
func runningKey(jobInstanceID string, status model.JobStatus) *string {
	if !status.IsRunning() {
		return nil
	}
	key := jobInstanceID
	return &key
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	return &JobExecutionEntity{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		StartTime:        je.StartTime,
		EndTime:          je.EndTime,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		Failures:         nonNilFailures(je.Failures),
		ExecutionContext: nonNilContext(je.ExecutionContext),
		CurrentStepName:  je.CurrentStepName,
		RestartCount:     je.RestartCount,
		Version:          je.Version,
		RunningKey:       runningKey(je.JobInstanceID, je.Status),
	}
}

// toDomainJobExecution maps the row; step executions are loaded separately.
func toDomainJobExecution(entity *JobExecutionEntity) *model.JobExecution {
	return &model.JobExecution{
		ID:               entity.ID,
		JobInstanceID:    entity.JobInstanceID,
		JobName:          entity.JobName,
		Parameters:       entity.Parameters,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
		Failures:         nonNilFailures(entity.Failures),
		ExecutionContext: nonNilContext(entity.ExecutionContext),
		CurrentStepName:  entity.CurrentStepName,
		RestartCount:     entity.RestartCount,
		Version:          entity.Version,
		StepExecutions:   make([]*model.StepExecution, 0),
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	return &StepExecutionEntity{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   se.JobExecutionID,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		StartTime:        se.StartTime,
		EndTime:          se.EndTime,
		Failures:         nonNilFailures(se.Failures),
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		ExecutionContext: nonNilContext(se.ExecutionContext),
		LastUpdated:      se.LastUpdated,
		Version:          se.Version,
	}
}

// toDomainStepExecution maps the row; the JobExecution back-reference is set by the caller.
func toDomainStepExecution(entity *StepExecutionEntity) *model.StepExecution {
	return &model.StepExecution{
		ID:               entity.ID,
		StepName:         entity.StepName,
		JobExecutionID:   entity.JobExecutionID,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Failures:         nonNilFailures(entity.Failures),
		ReadCount:        entity.ReadCount,
		WriteCount:       entity.WriteCount,
		CommitCount:      entity.CommitCount,
		RollbackCount:    entity.RollbackCount,
		ExecutionContext: nonNilContext(entity.ExecutionContext),
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}
}

func nonNilFailures(f model.FailureList) model.FailureList {
	if f == nil {
		return make(model.FailureList, 0)
	}
	return f
}

func nonNilContext(ec model.ExecutionContext) model.ExecutionContext {
	if ec == nil {
		return model.NewExecutionContext()
	}
	return ec
}
