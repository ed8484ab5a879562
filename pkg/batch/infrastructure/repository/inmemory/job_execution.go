package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SaveJobExecution persists a new JobExecution unless another execution of the same instance
// is still running.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return exception.NewBatchErrorf("inmemory_repository", "JobExecution with ID %s already exists", jobExecution.ID)
	}
	for _, existing := range r.jobExecutions {
		if existing.JobInstanceID == jobExecution.JobInstanceID && existing.Status.IsRunning() {
			return exception.NewAlreadyRunningError("inmemory_repository",
				fmt.Sprintf("JobExecution (ID: %s, Status: %s) is already running for JobInstance (ID: %s)", existing.ID, existing.Status, existing.JobInstanceID))
		}
	}

	stored := r.snapshot(jobExecution)
	r.nextSeq++
	r.seq[jobExecution.ID] = r.nextSeq
	r.jobExecutions[jobExecution.ID] = stored
	return nil
}

// UpdateJobExecution updates an existing JobExecution if its version matches the stored one.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.jobExecutions[jobExecution.ID]
	if !exists {
		return exception.NewNotFoundError("inmemory_repository", fmt.Sprintf("JobExecution (ID: %s) not found for update", jobExecution.ID), nil)
	}
	if existing.Version != jobExecution.Version {
		return exception.NewOptimisticLockingFailureException("inmemory_repository",
			fmt.Sprintf("JobExecution (ID: %s) was modified concurrently (expected version %d, stored %d)", jobExecution.ID, jobExecution.Version, existing.Version), nil)
	}
	jobExecution.Version++
	r.jobExecutions[jobExecution.ID] = r.snapshot(jobExecution)
	return nil
}

// snapshot copies the execution without its step executions, which are stored separately.
func (r *InMemoryJobRepository) snapshot(jobExecution *model.JobExecution) *model.JobExecution {
	c := *jobExecution
	c.StepExecutions = nil
	c.Failures = append(model.FailureList(nil), jobExecution.Failures...)
	c.ExecutionContext = jobExecution.ExecutionContext.Copy()
	if jobExecution.EndTime != nil {
		end := *jobExecution.EndTime
		c.EndTime = &end
	}
	return &c
}

// load returns a detached copy with step executions attached. Caller holds r.mu.
func (r *InMemoryJobRepository) load(stored *model.JobExecution, withSteps bool) *model.JobExecution {
	c := stored.Clone()
	c.StepExecutions = make([]*model.StepExecution, 0)
	if !withSteps {
		return c
	}
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == c.ID {
			sc := se.Clone()
			sc.JobExecution = c
			c.StepExecutions = append(c.StepExecutions, sc)
		}
	}
	sort.SliceStable(c.StepExecutions, func(i, j int) bool {
		return c.StepExecutions[i].StartTime.Before(c.StepExecutions[j].StartTime)
	})
	return c
}

// FindJobExecutionByID finds a JobExecution by its ID, including its StepExecutions.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobExecution, ok := r.jobExecutions[id]
	if !ok {
		return nil, exception.NewNotFoundError("inmemory_repository", fmt.Sprintf("JobExecution (ID: %s) not found", id), nil)
	}
	return r.load(jobExecution, true), nil
}

// FindLatestJobExecution finds the most recently started execution of an instance.
func (r *InMemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := r.filter(func(je *model.JobExecution) bool { return je.JobInstanceID == jobInstanceID })
	if len(executions) == 0 {
		return nil, exception.NewNotFoundError("inmemory_repository", fmt.Sprintf("no JobExecution for JobInstance (ID: %s)", jobInstanceID), nil)
	}
	return r.load(executions[0], true), nil
}

// FindJobExecutionsByJobInstance finds all executions of an instance, newest first.
func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstanceID string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loadAll(r.filter(func(je *model.JobExecution) bool { return je.JobInstanceID == jobInstanceID }), 0), nil
}

// FindRecentJobExecutions returns up to limit executions, newest first.
func (r *InMemoryJobRepository) FindRecentJobExecutions(ctx context.Context, limit int) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loadAll(r.filter(func(*model.JobExecution) bool { return true }), limit), nil
}

// FindJobExecutionsByJobName returns up to limit executions of a job, newest first.
func (r *InMemoryJobRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loadAll(r.filter(func(je *model.JobExecution) bool { return je.JobName == jobName }), limit), nil
}

// FindRunningJobExecutions returns every non-terminal execution, newest first.
func (r *InMemoryJobRepository) FindRunningJobExecutions(ctx context.Context) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loadAll(r.filter(func(je *model.JobExecution) bool { return je.Status.IsRunning() }), 0), nil
}

// CountJobExecutions counts executions, optionally restricted to a job name and statuses.
func (r *InMemoryJobRepository) CountJobExecutions(ctx context.Context, jobName string, statuses ...model.JobStatus) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, je := range r.jobExecutions {
		if jobName != "" && je.JobName != jobName {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, je.Status) {
			continue
		}
		count++
	}
	return count, nil
}

func containsStatus(statuses []model.JobStatus, s model.JobStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// filter returns stored executions matching keep, newest first. Caller holds r.mu.
func (r *InMemoryJobRepository) filter(keep func(*model.JobExecution) bool) []*model.JobExecution {
	out := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if keep(je) {
			out = append(out, je)
		}
	}
	r.sortNewestFirst(out)
	return out
}

// loadAll detaches up to limit executions (all when limit <= 0). Caller holds r.mu.
func (r *InMemoryJobRepository) loadAll(stored []*model.JobExecution, limit int) []*model.JobExecution {
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}
	out := make([]*model.JobExecution, 0, len(stored))
	for _, je := range stored {
		out = append(out, r.load(je, false))
	}
	return out
}
