package item

import (
	"context"
	"errors"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ChunkStep is a port.Step that runs chunks sequentially until the reader is exhausted.
// After every commit it persists the step counts and the read position, which is where a
// restarted execution resumes. A stop request is observed only between chunks.
type ChunkStep[I, O any] struct {
	name                   string
	reader                 port.ItemReader[I]
	processor              port.ItemProcessor[I, O]
	writer                 port.ItemWriter[O]
	chunkSize              int
	txManager              tx.TransactionManager
	jobRepository          repository.JobRepository
	stepExecutionListeners []port.StepExecutionListener

	// Metrics and Tracing
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// NewChunkStep creates a new ChunkStep instance.
func NewChunkStep[I, O any](
	name string,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	chunkSize int,
	txManager tx.TransactionManager,
	jobRepository repository.JobRepository,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	stepExecutionListeners ...port.StepExecutionListener,
) *ChunkStep[I, O] {
	if txManager == nil {
		txManager = tx.NewNoOpTransactionManager()
	}
	if metricRecorder == nil {
		metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &ChunkStep[I, O]{
		name:                   name,
		reader:                 reader,
		processor:              processor,
		writer:                 writer,
		chunkSize:              chunkSize,
		txManager:              txManager,
		jobRepository:          jobRepository,
		stepExecutionListeners: stepExecutionListeners,
		metricRecorder:         metricRecorder,
		tracer:                 tracer,
	}
}

// StepName returns the step name.
func (s *ChunkStep[I, O]) StepName() string {
	return s.name
}

// ChunkSize returns the commit interval.
func (s *ChunkStep[I, O]) ChunkSize() int {
	return s.chunkSize
}

// Execute runs the chunk loop for stepExecution.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	stepName := stepExecution.StepName
	position := stepExecution.ReadPosition()
	logger.Infof("ChunkStep '%s' executing (chunk size: %d, read position: %d).", stepName, s.chunkSize, position)

	if stepExecution.Status == model.BatchStatusStarting {
		stepExecution.MarkAsStarted()
	}
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		return exception.NewBatchError(stepName, "Failed to update StepExecution status to STARTED", err, false, false)
	}
	for _, l := range s.stepExecutionListeners {
		l.BeforeStep(ctx, stepExecution)
	}

	stopped, chunkErr := s.runChunks(ctx, stepExecution, position)

	switch {
	case chunkErr != nil:
		s.tracer.RecordError(ctx, stepName, chunkErr)
		stepExecution.MarkAsFailed(chunkErr)
	case stopped:
		logger.Infof("ChunkStep '%s': Stop requested. Stopping at read position %d.", stepName, stepExecution.ReadPosition())
		stepExecution.MarkAsStopped()
	default:
		stepExecution.MarkAsCompleted()
	}

	for _, l := range s.stepExecutionListeners {
		l.AfterStep(ctx, stepExecution)
	}
	if updateErr := s.jobRepository.UpdateStepExecution(ctx, stepExecution); updateErr != nil {
		logger.Errorf("ChunkStep '%s': Failed to update final StepExecution state: %v", stepName, updateErr)
		if chunkErr == nil {
			chunkErr = updateErr
		}
	}

	logger.Infof("ChunkStep '%s' finished. ExitStatus: %s, Read: %d, Written: %d, Commits: %d, Rollbacks: %d",
		stepName, stepExecution.ExitStatus, stepExecution.ReadCount, stepExecution.WriteCount,
		stepExecution.CommitCount, stepExecution.RollbackCount)
	return chunkErr
}

// runChunks opens the reader and writer, runs chunks until end of input, a failure or a stop
// request, and closes them again.
func (s *ChunkStep[I, O]) runChunks(ctx context.Context, stepExecution *model.StepExecution, position int) (stopped bool, err error) {
	stepName := stepExecution.StepName

	if err := s.reader.Open(ctx, stepExecution.ExecutionContext); err != nil {
		return false, exception.NewBatchError(stepName, "Failed to open ItemReader", err, false, false)
	}
	if err := s.writer.Open(ctx, stepExecution.ExecutionContext); err != nil {
		if closeErr := s.reader.Close(ctx); closeErr != nil {
			logger.Warnf("ChunkStep '%s': Failed to close ItemReader: %v", stepName, closeErr)
		}
		return false, exception.NewBatchError(stepName, "Failed to open ItemWriter", err, false, false)
	}
	defer func() {
		if closeErr := s.reader.Close(ctx); closeErr != nil {
			logger.Warnf("ChunkStep '%s': Failed to close ItemReader: %v", stepName, closeErr)
		}
		if closeErr := s.writer.Close(ctx); closeErr != nil {
			logger.Warnf("ChunkStep '%s': Failed to close ItemWriter: %v", stepName, closeErr)
			if err == nil {
				err = exception.NewBatchError(stepName, "Failed to close ItemWriter", closeErr, false, false)
			}
		}
	}()

	for {
		if port.StopRequested(ctx) || errors.Is(ctx.Err(), context.Canceled) {
			return true, nil
		}

		result := RunChunk(ctx, s.reader, s.processor, s.writer, s.txManager, s.chunkSize)
		stepExecution.ReadCount += result.RecordsRead
		if result.RecordsRead > 0 {
			s.metricRecorder.RecordItemRead(ctx, stepName, result.RecordsRead)
		}

		if result.Failed {
			stepExecution.RollbackCount++
			s.metricRecorder.RecordChunkRollback(ctx, stepName, rollbackReason(result.Cause))
			logger.Errorf("ChunkStep '%s': Chunk rolled back after %d reads: %v", stepName, result.RecordsRead, result.Cause)
			return false, result.Cause
		}

		if result.RecordsWritten > 0 {
			position += result.RecordsRead
			stepExecution.WriteCount += result.RecordsWritten
			stepExecution.CommitCount++
			stepExecution.ExecutionContext.Put(model.ContextKeyReadPosition, position)
			s.metricRecorder.RecordItemWrite(ctx, stepName, result.RecordsWritten)
			s.metricRecorder.RecordChunkCommit(ctx, stepName, result.RecordsWritten)

			if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
				return false, exception.NewBatchError(stepName, "Failed to save checkpoint after commit", err, false, false)
			}
			logger.Debugf("ChunkStep '%s': Chunk committed. Written: %d, read position: %d.", stepName, result.RecordsWritten, position)
		}

		if result.EndOfInput {
			logger.Debugf("ChunkStep '%s': Reached end of input.", stepName)
			return false, nil
		}
	}
}

// rollbackReason names the error kind behind a failed chunk for metrics.
func rollbackReason(err error) string {
	switch {
	case errors.Is(err, exception.ErrMalformedInput):
		return "malformed_input"
	case errors.Is(err, exception.ErrTransformFailure):
		return "transform_failure"
	case errors.Is(err, exception.ErrSinkWrite):
		return "sink_write"
	default:
		return "error"
	}
}

var _ port.Step = (*ChunkStep[any, any])(nil)
