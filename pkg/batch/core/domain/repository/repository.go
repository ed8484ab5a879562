// Package repository declares the persistence ports of chunkflow: the job repository that
// tracks executions and a generic entity repository for domain records.
package repository

import "context"

// JobRepository is the store of batch execution metadata and the single source of truth for
// whether a job instance is running.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}

// Repository is generic CRUD over a domain entity T keyed by ID.
type Repository[T any, ID comparable] interface {
	// Save inserts or updates one entity.
	Save(ctx context.Context, entity *T) error
	// SaveAll inserts or updates entities in one bulk operation.
	SaveAll(ctx context.Context, entities []*T) error
	// FindByID returns exception.ErrNotFound when no entity has the id.
	FindByID(ctx context.Context, id ID) (*T, error)
	// FindByField returns entities whose column equals value. Unknown columns are an
	// exception.ErrInvalidArgument.
	FindByField(ctx context.Context, field string, value interface{}) ([]*T, error)
	// Count returns the number of stored entities.
	Count(ctx context.Context) (int64, error)
	// CountWhere counts entities matching a predicate.
	CountWhere(ctx context.Context, predicate Predicate) (int64, error)
}

// Predicate is a storage-level filter, a SQL condition with positional arguments
// (for example "processed_at IS NOT NULL").
type Predicate struct {
	Query string
	Args  []interface{}
}

// Where builds a Predicate.
func Where(query string, args ...interface{}) Predicate {
	return Predicate{Query: query, Args: args}
}
