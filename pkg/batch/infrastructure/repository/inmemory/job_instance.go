package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveJobInstance persists a new JobInstance.
func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, jobInstance *model.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobInstances[jobInstance.ID]; exists {
		return exception.NewBatchErrorf("inmemory_repository", "JobInstance with ID %s already exists", jobInstance.ID)
	}
	for _, existing := range r.jobInstances {
		if existing.JobName == jobInstance.JobName && existing.ParametersHash == jobInstance.ParametersHash {
			return exception.NewBatchErrorf("inmemory_repository", "JobInstance for job '%s' with the same parameters already exists (ID: %s)", jobInstance.JobName, existing.ID)
		}
	}
	c := *jobInstance
	r.jobInstances[jobInstance.ID] = &c
	return nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobInstance, ok := r.jobInstances[id]
	if !ok {
		return nil, exception.NewNotFoundError("inmemory_repository", fmt.Sprintf("JobInstance (ID: %s) not found", id), nil)
	}
	c := *jobInstance
	return &c, nil
}

// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and exact parameters.
func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, instance := range r.jobInstances {
		if instance.JobName == jobName && instance.ParametersHash == hash {
			c := *instance
			return &c, nil
		}
	}
	return nil, exception.NewNotFoundError("inmemory_repository", fmt.Sprintf("JobInstance for job '%s' with the given parameters not found", jobName), nil)
}

// GetJobNames returns a list of all distinct job names.
func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, instance := range r.jobInstances {
		if _, ok := seen[instance.JobName]; !ok {
			seen[instance.JobName] = struct{}{}
			names = append(names, instance.JobName)
		}
	}
	sort.Strings(names)
	return names, nil
}
