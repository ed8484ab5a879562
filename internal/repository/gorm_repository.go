// Package repository implements the entity repositories of the customer application on GORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// GormRepository implements repository.Repository for a GORM model T whose primary key is ID.
// SaveAll is an upsert on the primary key, so redelivered records overwrite instead of failing.
type GormRepository[T any, ID comparable] struct {
	db        *gorm.DB
	name      string
	batchSize int
	recorder  metrics.MetricRecorder
}

// NewGormRepository creates a GormRepository. batchSize bounds the rows per INSERT statement.
func NewGormRepository[T any, ID comparable](db *gorm.DB, name string, batchSize int, recorder metrics.MetricRecorder) *GormRepository[T, ID] {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if batchSize < 1 {
		batchSize = 100
	}
	return &GormRepository[T, ID]{db: db, name: name, batchSize: batchSize, recorder: recorder}
}

// DB returns the underlying handle.
func (r *GormRepository[T, ID]) DB() *gorm.DB {
	return r.db
}

// Save inserts entity or updates every column of the existing row.
func (r *GormRepository[T, ID]) Save(ctx context.Context, entity *T) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(entity).Error
	if err != nil {
		return exception.NewBatchError(r.name, "Failed to save entity", err, false, exception.IsTemporary(err))
	}
	return nil
}

// SaveAll upserts entities in one transaction.
func (r *GormRepository[T, ID]) SaveAll(ctx context.Context, entities []*T) error {
	if len(entities) == 0 {
		return nil
	}
	start := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(entities, r.batchSize).Error
	})
	status := "success"
	if err != nil {
		status = "failure"
	}
	r.recorder.RecordDuration(ctx, "bulk_save", time.Since(start), map[string]string{"repository": r.name, "status": status})
	if err != nil {
		return exception.NewSinkWriteFailure(r.name, fmt.Sprintf("bulk save of %d entities failed", len(entities)), err)
	}
	logger.Debugf("%s: Saved %d entities.", r.name, len(entities))
	return nil
}

// FindByID returns exception.ErrNotFound when no row has id.
func (r *GormRepository[T, ID]) FindByID(ctx context.Context, id ID) (*T, error) {
	var entity T
	err := r.db.WithContext(ctx).Take(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, exception.NewNotFoundError(r.name, fmt.Sprintf("entity %v not found", id), err)
	}
	if err != nil {
		return nil, exception.NewBatchError(r.name, fmt.Sprintf("Failed to find entity %v", id), err, false, exception.IsTemporary(err))
	}
	return &entity, nil
}

// FindByField returns the rows whose column field equals value. field is the column name
// or the Go field name of T.
func (r *GormRepository[T, ID]) FindByField(ctx context.Context, field string, value interface{}) ([]*T, error) {
	column, err := r.column(field)
	if err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	err = r.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: column}, Value: value}).Find(&entities).Error
	if err != nil {
		return nil, exception.NewBatchError(r.name, fmt.Sprintf("Failed to find entities by %s", column), err, false, exception.IsTemporary(err))
	}
	return entities, nil
}

// Count returns the number of rows.
func (r *GormRepository[T, ID]) Count(ctx context.Context) (int64, error) {
	return r.CountWhere(ctx, repository.Predicate{})
}

// CountWhere counts rows matching predicate. An empty predicate counts every row.
func (r *GormRepository[T, ID]) CountWhere(ctx context.Context, predicate repository.Predicate) (int64, error) {
	var count int64
	db := r.db.WithContext(ctx).Model(new(T))
	if predicate.Query != "" {
		db = db.Where(predicate.Query, predicate.Args...)
	}
	if err := db.Count(&count).Error; err != nil {
		return 0, exception.NewBatchError(r.name, "Failed to count entities", err, false, exception.IsTemporary(err))
	}
	return count, nil
}

// column resolves field against the schema of T so callers cannot inject SQL through it.
func (r *GormRepository[T, ID]) column(field string) (string, error) {
	stmt := &gorm.Statement{DB: r.db}
	if err := stmt.Parse(new(T)); err != nil {
		return "", exception.NewBatchError(r.name, "Failed to parse entity schema", err, false, false)
	}
	if f := lookupField(stmt.Schema, field); f != nil {
		return f.DBName, nil
	}
	return "", exception.NewInvalidArgumentError(r.name, fmt.Sprintf("unknown field '%s'", field))
}

func lookupField(s *schema.Schema, field string) *schema.Field {
	if f, ok := s.FieldsByDBName[field]; ok {
		return f
	}
	if f, ok := s.FieldsByName[field]; ok && f.DBName != "" {
		return f
	}
	return nil
}

var _ repository.Repository[struct{}, int64] = (*GormRepository[struct{}, int64])(nil)
