// Package inmemory provides an in-memory implementation of the JobRepository interface.
// All state lives in maps guarded by one mutex, which also makes the running-instance check
// and the insert of a new execution a single atomic step. Suitable for tests and single-process runs.
package inmemory

import (
	"sort"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
type InMemoryJobRepository struct {
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution

	// seq orders executions that share a start time.
	seq     map[string]uint64
	nextSeq uint64
	mu      sync.RWMutex
}

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		seq:            make(map[string]uint64),
	}
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

// sortNewestFirst orders executions by start time descending. Caller holds r.mu.
func (r *InMemoryJobRepository) sortNewestFirst(executions []*model.JobExecution) {
	sort.SliceStable(executions, func(i, j int) bool {
		a, b := executions[i], executions[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return r.seq[a.ID] > r.seq[b.ID]
	})
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
