package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveStepExecution persists a new StepExecution.
func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	if err := r.db.WithContext(ctx).Create(fromDomainStepExecution(stepExecution)).Error; err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save StepExecution (ID: %s)", stepExecution.ID), err, false, true)
	}
	return nil
}

// UpdateStepExecution writes counts, status and execution context. Partition workers update
// their own rows only, so no version check is made.
func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	entity := fromDomainStepExecution(stepExecution)
	result := r.db.WithContext(ctx).Model(&StepExecutionEntity{}).
		Where("id = ?", stepExecution.ID).
		Updates(map[string]interface{}{
			"status":            entity.Status,
			"exit_status":       entity.ExitStatus,
			"start_time":        entity.StartTime,
			"end_time":          entity.EndTime,
			"failures":          entity.Failures,
			"read_count":        entity.ReadCount,
			"write_count":       entity.WriteCount,
			"commit_count":      entity.CommitCount,
			"rollback_count":    entity.RollbackCount,
			"execution_context": entity.ExecutionContext,
			"last_updated":      entity.LastUpdated,
			"version":           stepExecution.Version + 1,
		})
	if result.Error != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to update StepExecution (ID: %s)", stepExecution.ID), result.Error, false, true)
	}
	if result.RowsAffected == 0 {
		return exception.NewNotFoundError(moduleName, fmt.Sprintf("StepExecution (ID: %s) not found for update", stepExecution.ID), nil)
	}
	stepExecution.Version++
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	var entity StepExecutionEntity
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.NewNotFoundError(moduleName, fmt.Sprintf("StepExecution (ID: %s) not found", id), nil)
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find StepExecution (ID: %s)", id), err, false, true)
	}
	return toDomainStepExecution(&entity), nil
}

// FindStepExecutionsByJobExecutionID returns the step executions of a job execution in start order.
func (r *SQLJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	var entities []StepExecutionEntity
	if err := r.db.WithContext(ctx).Where("job_execution_id = ?", jobExecutionID).Order("start_time").Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find StepExecutions for JobExecution (ID: %s)", jobExecutionID), err, false, true)
	}
	out := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainStepExecution(&entities[i]))
	}
	return out, nil
}
