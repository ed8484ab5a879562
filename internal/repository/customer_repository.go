package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/internal/domain/entity"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// CustomerRepository stores Customer records.
type CustomerRepository interface {
	repository.Repository[entity.Customer, int64]
	// FindByCountry returns the customers of country.
	FindByCountry(ctx context.Context, country string) ([]*entity.Customer, error)
	// CountProcessed counts customers carrying processing metadata.
	CountProcessed(ctx context.Context) (int64, error)
}

// GormCustomerRepository implements CustomerRepository.
type GormCustomerRepository struct {
	*GormRepository[entity.Customer, int64]
}

// NewCustomerRepository creates a GormCustomerRepository.
func NewCustomerRepository(db *gorm.DB, recorder metrics.MetricRecorder) *GormCustomerRepository {
	return &GormCustomerRepository{
		GormRepository: NewGormRepository[entity.Customer, int64](db, "CustomerRepository", 100, recorder),
	}
}

// FindByCountry returns the customers of country.
func (r *GormCustomerRepository) FindByCountry(ctx context.Context, country string) ([]*entity.Customer, error) {
	return r.FindByField(ctx, "country", country)
}

// CountProcessed counts customers whose processed_at is set.
func (r *GormCustomerRepository) CountProcessed(ctx context.Context) (int64, error) {
	return r.CountWhere(ctx, repository.Where("processed_at IS NOT NULL"))
}

var _ CustomerRepository = (*GormCustomerRepository)(nil)
