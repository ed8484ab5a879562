// Package factory assembles executable steps with the engine's shared collaborators.
package factory

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	executor "github.com/tigerroll/chunkflow/pkg/batch/engine/executor"
	itemstep "github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	partitionstep "github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StepFactory holds what every step needs besides its own reader, processor and writer.
type StepFactory struct {
	jobRepository  repository.JobRepository
	txManager      tx.TransactionManager
	submitter      executor.TaskSubmitter
	partitioner    port.Partitioner
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
	listeners      []port.StepExecutionListener
}

// StepFactoryParams defines the parameters NewStepFactory receives from fx.
type StepFactoryParams struct {
	fx.In
	JobRepository  repository.JobRepository
	TxManager      tx.TransactionManager
	Submitter      executor.TaskSubmitter
	Partitioner    port.Partitioner
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
	Listeners      []port.StepExecutionListener `group:"stepListeners"`
}

// NewStepFactory creates a StepFactory.
func NewStepFactory(p StepFactoryParams) *StepFactory {
	return &StepFactory{
		jobRepository:  p.JobRepository,
		txManager:      p.TxManager,
		submitter:      p.Submitter,
		partitioner:    p.Partitioner,
		metricRecorder: p.MetricRecorder,
		tracer:         p.Tracer,
		listeners:      p.Listeners,
	}
}

// TransactionManager returns the manager chunk steps writing to the database commit through.
func (f *StepFactory) TransactionManager() tx.TransactionManager {
	return f.txManager
}

// NewChunkStep builds a chunk step. A nil txManager commits through a no-op transaction, which
// suits sinks that are not transactional (bus producer, file upload).
func NewChunkStep[I, O any](
	f *StepFactory,
	name string,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	chunkSize int,
	txManager tx.TransactionManager,
) port.Step {
	return itemstep.NewChunkStep[I, O](name, reader, processor, writer, chunkSize, txManager, f.jobRepository, f.metricRecorder, f.tracer, f.listeners...)
}

// NewPartitionStep builds a master step splitting its input into gridSize ranges.
func (f *StepFactory) NewPartitionStep(name, workerStepName string, gridSize int, counter port.RecordCounter, newWorker partitionstep.WorkerFactory) port.Step {
	return partitionstep.NewPartitionStep(name, workerStepName, gridSize, f.partitioner, counter, newWorker, f.submitter, f.jobRepository, f.metricRecorder, f.tracer, f.listeners...)
}

// StepBuilder builds the step of one execution from its job parameters.
type StepBuilder func(params model.JobParameters) (port.Step, error)

// perExecutionStep defers building its step until an execution runs it, so readers and writers
// holding per-run state are never shared between executions.
type perExecutionStep struct {
	name  string
	build StepBuilder
}

// PerExecution returns a step named name that delegates to a fresh step built for every execution.
func (f *StepFactory) PerExecution(name string, build StepBuilder) port.Step {
	return &perExecutionStep{name: name, build: build}
}

func (s *perExecutionStep) StepName() string {
	return s.name
}

func (s *perExecutionStep) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	step, err := s.build(jobExecution.Parameters)
	if err != nil {
		stepExecution.MarkAsFailed(err)
		return exception.NewBatchError(s.name, "Failed to build step", err, false, false)
	}
	if step.StepName() != s.name {
		err := exception.NewInvalidArgumentError(s.name, fmt.Sprintf("built step is named '%s'", step.StepName()))
		stepExecution.MarkAsFailed(err)
		return err
	}
	logger.Debugf("Step '%s' built for JobExecution %s.", s.name, jobExecution.ID)
	return step.Execute(ctx, jobExecution, stepExecution)
}

var _ port.Step = (*perExecutionStep)(nil)
