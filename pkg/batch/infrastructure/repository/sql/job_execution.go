package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveJobExecution inserts the execution. A running execution carries its instance ID in
// running_key; a unique violation there means another execution of the instance is running.
func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	entity := fromDomainJobExecution(jobExecution)
	err := r.db.WithContext(ctx).Create(entity).Error
	if err == nil {
		return nil
	}
	if entity.RunningKey != nil {
		var running JobExecutionEntity
		findErr := r.db.WithContext(ctx).Where("running_key = ?", *entity.RunningKey).Take(&running).Error
		if findErr == nil {
			return exception.NewAlreadyRunningError(moduleName,
				fmt.Sprintf("JobExecution (ID: %s, Status: %s) is already running for JobInstance (ID: %s)", running.ID, running.Status, running.JobInstanceID))
		}
	}
	return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save JobExecution (ID: %s)", jobExecution.ID), err, false, true)
}

// UpdateJobExecution writes the execution if the stored version still matches, then bumps Version.
func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	entity := fromDomainJobExecution(jobExecution)
	result := r.db.WithContext(ctx).Model(&JobExecutionEntity{}).
		Where("id = ? AND version = ?", jobExecution.ID, jobExecution.Version).
		Updates(map[string]interface{}{
			"status":            entity.Status,
			"exit_status":       entity.ExitStatus,
			"start_time":        entity.StartTime,
			"end_time":          entity.EndTime,
			"last_updated":      entity.LastUpdated,
			"failures":          entity.Failures,
			"execution_context": entity.ExecutionContext,
			"current_step_name": entity.CurrentStepName,
			"restart_count":     entity.RestartCount,
			"running_key":       entity.RunningKey,
			"version":           jobExecution.Version + 1,
		})
	if result.Error != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to update JobExecution (ID: %s)", jobExecution.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&JobExecutionEntity{}).Where("id = ?", jobExecution.ID).Count(&count).Error; err != nil {
			return exception.NewBatchError(moduleName, fmt.Sprintf("failed to check JobExecution (ID: %s)", jobExecution.ID), err, false, true)
		}
		if count == 0 {
			return exception.NewNotFoundError(moduleName, fmt.Sprintf("JobExecution (ID: %s) not found for update", jobExecution.ID), nil)
		}
		return exception.NewOptimisticLockingFailureException(moduleName,
			fmt.Sprintf("JobExecution (ID: %s) was modified concurrently (expected version %d)", jobExecution.ID, jobExecution.Version), nil)
	}
	jobExecution.Version++
	return nil
}

// FindJobExecutionByID finds a JobExecution, including its StepExecutions.
func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	var entity JobExecutionEntity
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.NewNotFoundError(moduleName, fmt.Sprintf("JobExecution (ID: %s) not found", id), nil)
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobExecution (ID: %s)", id), err, false, true)
	}
	return r.withSteps(ctx, toDomainJobExecution(&entity))
}

// FindLatestJobExecution finds the most recently started execution of an instance.
func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	executions, err := r.findExecutions(ctx, r.db.Where("job_instance_id = ?", jobInstanceID), 1)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, exception.NewNotFoundError(moduleName, fmt.Sprintf("no JobExecution for JobInstance (ID: %s)", jobInstanceID), nil)
	}
	return r.withSteps(ctx, executions[0])
}

// FindJobExecutionsByJobInstance finds all executions of an instance, newest first.
func (r *SQLJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	return r.findExecutions(ctx, r.db.Where("job_instance_id = ?", jobInstanceID), 0)
}

// FindRecentJobExecutions returns up to limit executions, newest first.
func (r *SQLJobRepository) FindRecentJobExecutions(ctx context.Context, limit int) ([]*model.JobExecution, error) {
	return r.findExecutions(ctx, r.db, limit)
}

// FindJobExecutionsByJobName returns up to limit executions of a job, newest first.
func (r *SQLJobRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobExecution, error) {
	return r.findExecutions(ctx, r.db.Where("job_name = ?", jobName), limit)
}

// FindRunningJobExecutions returns every non-terminal execution, newest first.
func (r *SQLJobRepository) FindRunningJobExecutions(ctx context.Context) ([]*model.JobExecution, error) {
	return r.findExecutions(ctx, r.db.Where("status IN ?", model.RunningStatuses()), 0)
}

// CountJobExecutions counts executions, optionally restricted to a job name and statuses.
func (r *SQLJobRepository) CountJobExecutions(ctx context.Context, jobName string, statuses ...model.JobStatus) (int64, error) {
	query := r.db.WithContext(ctx).Model(&JobExecutionEntity{})
	if jobName != "" {
		query = query.Where("job_name = ?", jobName)
	}
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, exception.NewBatchError(moduleName, "failed to count JobExecutions", err, false, true)
	}
	return count, nil
}

// findExecutions runs scope newest first, limited when limit > 0. Step executions are not loaded.
func (r *SQLJobRepository) findExecutions(ctx context.Context, scope *gorm.DB, limit int) ([]*model.JobExecution, error) {
	query := scope.WithContext(ctx).Order("start_time DESC").Order("create_time DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entities []JobExecutionEntity
	if err := query.Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to query JobExecutions", err, false, true)
	}
	out := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainJobExecution(&entities[i]))
	}
	return out, nil
}

func (r *SQLJobRepository) withSteps(ctx context.Context, je *model.JobExecution) (*model.JobExecution, error) {
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	for _, se := range steps {
		se.JobExecution = je
	}
	je.StepExecutions = steps
	return je, nil
}
