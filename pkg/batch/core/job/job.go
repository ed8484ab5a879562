// Package job holds job definitions and the registry the launcher resolves job names against.
package job

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SimpleJob runs its steps one after another.
type SimpleJob struct {
	name           string
	steps          []port.Step
	requiredParams []string
}

// NewSimpleJob creates a job named name over steps.
func NewSimpleJob(name string, steps ...port.Step) *SimpleJob {
	return &SimpleJob{name: name, steps: steps}
}

// WithRequiredParameters declares parameters a launch must carry.
func (j *SimpleJob) WithRequiredParameters(keys ...string) *SimpleJob {
	j.requiredParams = append(j.requiredParams, keys...)
	return j
}

// JobName returns the job name.
func (j *SimpleJob) JobName() string {
	return j.name
}

// Steps returns the steps in execution order.
func (j *SimpleJob) Steps() []port.Step {
	return j.steps
}

// ValidateParameters checks that every required parameter is present.
func (j *SimpleJob) ValidateParameters(params model.JobParameters) error {
	logger.Debugf("Job '%s': Executing JobParameters validation. Parameters: %s", j.name, params.String())
	var missing []string
	for _, key := range j.requiredParams {
		if _, ok := params.Get(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return exception.NewInvalidArgumentError(j.name, fmt.Sprintf("required job parameters missing: %s", strings.Join(missing, ", ")))
	}
	return nil
}

var _ port.Job = (*SimpleJob)(nil)

// Registry maps job names to job definitions.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]port.Job
}

// RegistryParams collects every job provided to the `jobs` value group.
type RegistryParams struct {
	fx.In
	Jobs []port.Job `group:"jobs"`
}

// NewRegistry creates a Registry holding p.Jobs.
func NewRegistry(p RegistryParams) *Registry {
	r := &Registry{jobs: make(map[string]port.Job, len(p.Jobs))}
	for _, j := range p.Jobs {
		r.Register(j)
	}
	return r
}

// Register adds or replaces a job definition.
func (r *Registry) Register(j port.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[j.JobName()]; exists {
		logger.Warnf("JobRegistry: Job '%s' registered twice. The later definition wins.", j.JobName())
	}
	r.jobs[j.JobName()] = j
	logger.Debugf("JobRegistry: Registered job '%s' with %d step(s).", j.JobName(), len(j.Steps()))
}

// Get returns the job named name or an exception.ErrNotFound error.
func (r *Registry) Get(name string) (port.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	if !ok {
		return nil, exception.NewNotFoundError("JobRegistry", fmt.Sprintf("job '%s' is not registered", name), nil)
	}
	return j, nil
}

// Names returns the registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Module provides the job Registry.
var Module = fx.Options(
	fx.Provide(NewRegistry),
)
