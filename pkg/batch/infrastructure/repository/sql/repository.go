// Package sql implements the JobRepository on a relational database through GORM. The
// one-running-execution rule is enforced by the unique running_key column, so the check and
// the insert of a new execution are a single statement.
package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const moduleName = "sql_repository"

// SQLJobRepository implements repository.JobRepository.
type SQLJobRepository struct {
	db *gorm.DB
}

// NewSQLJobRepository creates a SQLJobRepository. The schema is created by the framework migrations.
func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

// Close does nothing; the *gorm.DB belongs to the database module.
func (r *SQLJobRepository) Close() error {
	return nil
}

// SaveJobInstance persists a new JobInstance.
func (r *SQLJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	if err := r.db.WithContext(ctx).Create(fromDomainJobInstance(instance)).Error; err != nil {
		if existing, findErr := r.FindJobInstanceByJobNameAndParameters(ctx, instance.JobName, instance.Parameters); findErr == nil {
			return exception.NewBatchErrorf(moduleName, "JobInstance for job '%s' with the same parameters already exists (ID: %s)", instance.JobName, existing.ID)
		}
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err, false, true)
	}
	return nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	var entity JobInstanceEntity
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.NewNotFoundError(moduleName, fmt.Sprintf("JobInstance (ID: %s) not found", id), nil)
	}
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobInstance (ID: %s)", id), err, false, true)
	}
	return toDomainJobInstance(&entity), nil
}

// FindJobInstanceByJobNameAndParameters matches on the parameters hash, then confirms the
// parameters themselves.
func (r *SQLJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}
	var entities []JobInstanceEntity
	if err := r.db.WithContext(ctx).Where("job_name = ? AND parameters_hash = ?", jobName, hash).Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to find JobInstance for job '%s'", jobName), err, false, true)
	}
	for i := range entities {
		instance := toDomainJobInstance(&entities[i])
		if instance.Parameters.Equal(params) {
			return instance, nil
		}
		logger.Warnf("JobInstance (ID: %s) hash matched but parameters differ.", instance.ID)
	}
	return nil, exception.NewNotFoundError(moduleName, fmt.Sprintf("JobInstance for job '%s' with the given parameters not found", jobName), nil)
}

// GetJobNames returns the distinct job names in ascending order.
func (r *SQLJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	if err := r.db.WithContext(ctx).Model(&JobInstanceEntity{}).Distinct("job_name").Order("job_name").Pluck("job_name", &names).Error; err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to list job names", err, false, true)
	}
	return names, nil
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)
