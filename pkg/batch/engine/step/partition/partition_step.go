// Package partition implements the master step that splits its input into ranges and runs one
// worker chunk step per range on the shared worker pool.
package partition

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	executor "github.com/tigerroll/chunkflow/pkg/batch/engine/executor"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// TotalRecordsParameter is the job parameter that overrides the pre-scan record count.
const TotalRecordsParameter = "totalRecords"

// Execution context keys written on the master step execution.
const (
	ContextKeyTotalRecords = "partition.total"
	ContextKeyGridSize     = "partition.grid"
)

// WorkerFactory builds the worker step for one partition. Workers hold their own reader and
// writer, so every partition gets a fresh instance.
type WorkerFactory func(partition model.PartitionContext) (port.Step, error)

// PartitionStep is the master step of a partitioned job.
type PartitionStep struct {
	name                   string
	workerStepName         string
	gridSize               int
	partitioner            port.Partitioner
	counter                port.RecordCounter
	newWorker              WorkerFactory
	submitter              executor.TaskSubmitter
	jobRepository          repository.JobRepository
	stepExecutionListeners []port.StepExecutionListener

	// Metrics and Tracing
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// NewPartitionStep creates a new PartitionStep instance.
func NewPartitionStep(
	name string,
	workerStepName string,
	gridSize int,
	partitioner port.Partitioner,
	counter port.RecordCounter,
	newWorker WorkerFactory,
	submitter executor.TaskSubmitter,
	jobRepository repository.JobRepository,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	stepExecutionListeners ...port.StepExecutionListener,
) *PartitionStep {
	if metricRecorder == nil {
		metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &PartitionStep{
		name:                   name,
		workerStepName:         workerStepName,
		gridSize:               gridSize,
		partitioner:            partitioner,
		counter:                counter,
		newWorker:              newWorker,
		submitter:              submitter,
		jobRepository:          jobRepository,
		stepExecutionListeners: stepExecutionListeners,
		metricRecorder:         metricRecorder,
		tracer:                 tracer,
	}
}

// StepName returns the step name.
func (s *PartitionStep) StepName() string {
	return s.name
}

// GridSize returns the number of partitions.
func (s *PartitionStep) GridSize() int {
	return s.gridSize
}

// partitionRun pairs a partition with its worker step execution.
type partitionRun struct {
	partition model.PartitionContext
	execution *model.StepExecution
}

// Execute partitions the input, runs the pending partitions and aggregates their outcome.
func (s *PartitionStep) Execute(ctx context.Context, jobExecution *model.JobExecution, masterExecution *model.StepExecution) error {
	logger.Infof("PartitionStep '%s' executing (GridSize: %d).", s.name, s.gridSize)

	if masterExecution.Status == model.BatchStatusStarting {
		masterExecution.MarkAsStarted()
	}
	if err := s.jobRepository.UpdateStepExecution(ctx, masterExecution); err != nil {
		return exception.NewBatchError(s.name, "Failed to update master StepExecution status to STARTED", err, false, false)
	}
	for _, l := range s.stepExecutionListeners {
		l.BeforeStep(ctx, masterExecution)
	}

	runs, err := s.prepare(ctx, jobExecution, masterExecution)
	if err == nil {
		err = s.dispatch(ctx, jobExecution, runs)
	}
	err = s.aggregate(masterExecution, runs, err)

	for _, l := range s.stepExecutionListeners {
		l.AfterStep(ctx, masterExecution)
	}
	if updateErr := s.jobRepository.UpdateStepExecution(ctx, masterExecution); updateErr != nil {
		logger.Errorf("PartitionStep '%s': Failed to update final master StepExecution state: %v", s.name, updateErr)
		if err == nil {
			err = updateErr
		}
	}

	logger.Infof("PartitionStep '%s' finished. ExitStatus: %s, Read: %d, Written: %d",
		s.name, masterExecution.ExitStatus, masterExecution.ReadCount, masterExecution.WriteCount)
	return err
}

// prepare computes the partitions and creates (or, on restart, finds) the worker step
// executions. All of them are attached to jobExecution here, before any worker runs.
func (s *PartitionStep) prepare(ctx context.Context, jobExecution *model.JobExecution, masterExecution *model.StepExecution) ([]partitionRun, error) {
	total, err := s.totalRecords(ctx, jobExecution, masterExecution)
	if err != nil {
		return nil, err
	}
	partitions, err := s.partitioner.Partition(total, s.gridSize)
	if err != nil {
		return nil, exception.NewBatchError(s.name, "Failed to execute Partitioner", err, false, false)
	}
	masterExecution.ExecutionContext.Put(ContextKeyTotalRecords, total)
	masterExecution.ExecutionContext.Put(ContextKeyGridSize, s.gridSize)
	logger.Infof("PartitionStep '%s': %d records split into %d partitions.", s.name, total, len(partitions))

	runs := make([]partitionRun, 0, len(partitions))
	for _, p := range partitions {
		name := model.PartitionStepName(s.workerStepName, p)
		workerExecution := jobExecution.FindStepExecution(name)
		if workerExecution == nil {
			workerExecution = model.NewStepExecution(jobExecution, name)
			workerExecution.ExecutionContext = p.ToExecutionContext()
			if err := s.jobRepository.SaveStepExecution(ctx, workerExecution); err != nil {
				return runs, exception.NewBatchError(s.name, fmt.Sprintf("Failed to save worker StepExecution '%s'", name), err, false, false)
			}
		}
		runs = append(runs, partitionRun{partition: p, execution: workerExecution})
	}
	return runs, nil
}

// totalRecords prefers the job parameter, then a count recorded by an earlier attempt, then a
// pre-scan of the input.
func (s *PartitionStep) totalRecords(ctx context.Context, jobExecution *model.JobExecution, masterExecution *model.StepExecution) (int, error) {
	if v, ok := jobExecution.Parameters.GetLong(TotalRecordsParameter); ok {
		logger.Debugf("PartitionStep '%s': Using %s=%d from job parameters.", s.name, TotalRecordsParameter, v)
		return int(v), nil
	}
	if v, ok := masterExecution.ExecutionContext.GetInt(ContextKeyTotalRecords); ok {
		return v, nil
	}
	if s.counter == nil {
		return 0, exception.NewInvalidArgumentError(s.name, fmt.Sprintf("no record counter configured and no %s parameter given", TotalRecordsParameter))
	}
	total, err := s.counter.CountRecords(ctx)
	if err != nil {
		return 0, exception.NewBatchError(s.name, "Failed to count input records", err, false, false)
	}
	return total, nil
}

// dispatch submits every unfinished partition to the pool and waits for all of them. A failed
// partition does not cancel its siblings.
func (s *PartitionStep) dispatch(ctx context.Context, jobExecution *model.JobExecution, runs []partitionRun) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	appendErr := func(err error) {
		mu.Lock()
		result = multierror.Append(result, err)
		mu.Unlock()
	}

	for _, run := range runs {
		if run.execution.Status == model.BatchStatusCompleted {
			logger.Infof("PartitionStep '%s': Partition '%s' already completed. Skipping.", s.name, run.partition.Label)
			continue
		}
		worker, err := s.newWorker(run.partition)
		if err != nil {
			appendErr(exception.NewBatchError(s.name, fmt.Sprintf("Failed to build worker for %s", run.partition.Label), err, false, false))
			run.execution.MarkAsFailed(err)
			continue
		}

		run := run
		wg.Add(1)
		submitErr := s.submitter.Submit(ctx, func(workerName string) {
			defer wg.Done()
			if err := s.runPartition(ctx, jobExecution, worker, run, workerName); err != nil {
				appendErr(err)
			}
		})
		if submitErr != nil {
			wg.Done()
			appendErr(exception.NewBatchError(s.name, fmt.Sprintf("Failed to submit %s", run.partition.Label), submitErr, false, false))
			run.execution.MarkAsFailed(submitErr)
		}
	}
	wg.Wait()
	return result.ErrorOrNil()
}

func (s *PartitionStep) runPartition(ctx context.Context, jobExecution *model.JobExecution, worker port.Step, run partitionRun, workerName string) (err error) {
	// A panicking worker fails its partition instead of leaving it non-terminal.
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("worker panicked: %v", r)
			logger.Errorf("PartitionStep '%s': %s on %s: %v", s.name, run.partition.Label, workerName, cause)
			run.execution.MarkAsFailed(cause)
			if updateErr := s.jobRepository.UpdateStepExecution(ctx, run.execution); updateErr != nil {
				logger.Errorf("PartitionStep '%s': Failed to persist failed %s: %v", s.name, run.partition.Label, updateErr)
			}
			err = exception.NewBatchError(s.name, fmt.Sprintf("%s failed", run.partition.Label), cause, false, false)
		}
	}()

	logger.Debugf("PartitionStep '%s': %s [%d, %d) running on %s.", s.name, run.partition.Label, run.partition.Offset, run.partition.End(), workerName)

	workerCtx := port.WithWorkerName(port.GetContextWithStepExecution(ctx, run.execution), run.partition.Label)
	workerCtx, finishSpan := s.tracer.StartStepSpan(workerCtx, run.execution)
	defer finishSpan()

	s.metricRecorder.RecordStepStart(workerCtx, run.execution)
	err = worker.Execute(workerCtx, jobExecution, run.execution)
	s.metricRecorder.RecordStepEnd(workerCtx, run.execution)

	if err != nil {
		logger.Errorf("PartitionStep '%s': %s failed: %v", s.name, run.partition.Label, err)
		return exception.NewBatchError(s.name, fmt.Sprintf("%s failed", run.partition.Label), err, false, false)
	}
	logger.Infof("PartitionStep '%s': %s finished with status %s (written: %d).", s.name, run.partition.Label, run.execution.Status, run.execution.WriteCount)
	return nil
}

// aggregate sums the worker counts into the master execution and sets its status: FAILED if
// anything failed or a worker did not reach a terminal status, STOPPED if any worker stopped,
// COMPLETED otherwise.
func (s *PartitionStep) aggregate(masterExecution *model.StepExecution, runs []partitionRun, err error) error {
	masterExecution.ReadCount = 0
	masterExecution.WriteCount = 0
	masterExecution.CommitCount = 0
	masterExecution.RollbackCount = 0

	stopped, unfinished := false, false
	for _, run := range runs {
		we := run.execution
		masterExecution.ReadCount += we.ReadCount
		masterExecution.WriteCount += we.WriteCount
		masterExecution.CommitCount += we.CommitCount
		masterExecution.RollbackCount += we.RollbackCount
		switch we.Status {
		case model.BatchStatusFailed:
			for _, f := range we.Failures {
				masterExecution.Failures = append(masterExecution.Failures, fmt.Sprintf("%s: %s", run.partition.Label, f))
			}
		case model.BatchStatusStopped:
			stopped = true
		case model.BatchStatusCompleted:
		default:
			unfinished = true
			masterExecution.Failures = append(masterExecution.Failures, fmt.Sprintf("%s: ended in status %s", run.partition.Label, we.Status))
		}
	}

	switch {
	case err != nil:
		masterExecution.MarkAsFailed(exception.NewBatchError(s.name, "one or more partitions failed", err, false, false))
	case unfinished:
		err = exception.NewBatchError(s.name, "one or more partitions did not finish", nil, false, false)
		masterExecution.MarkAsFailed(err)
	case stopped:
		masterExecution.MarkAsStopped()
	default:
		masterExecution.MarkAsCompleted()
	}
	return err
}

var _ port.Step = (*PartitionStep)(nil)
