// Package port defines the core interfaces (ports) for the batch application.
// These interfaces abstract the application's capabilities and dependencies,
// allowing for flexible implementation and testing.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// ErrNoMoreItems is the clean end-of-sequence signal of an ItemReader.
var ErrNoMoreItems = errors.New("no more items to read")

// Job is an executable batch job: a named, ordered list of steps.
type Job interface {
	// JobName returns the logical name of the job.
	JobName() string
	// Steps returns the steps in execution order.
	Steps() []Step
	// ValidateParameters validates job parameters before a launch.
	ValidateParameters(params model.JobParameters) error
}

// JobRunner drives a JobExecution through its steps until it reaches a terminal status.
type JobRunner interface {
	// Run executes job for jobExecution. It returns once the execution is terminal and persisted.
	Run(ctx context.Context, job Job, jobExecution *model.JobExecution)
}

// Step is a single step executed within a job.
type Step interface {
	// StepName returns the logical name of the step.
	StepName() string
	// Execute runs the step. The step records counts, status and checkpoint on stepExecution.
	// A stopped step returns nil with stepExecution in STOPPED.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
}

// ItemReader is a record source. O is the type of item read.
type ItemReader[O any] interface {
	// Open opens resources and restores the read position from ec.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Read returns the next item, or ErrNoMoreItems at the end of input.
	Read(ctx context.Context) (O, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// ItemProcessor transforms one item. A returned error is a per-record failure.
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter writes a whole chunk. Writers that take part in a database transaction use t;
// others ignore it and must make the chunk visible in one operation.
type ItemWriter[I any] interface {
	Open(ctx context.Context, ec model.ExecutionContext) error
	Write(ctx context.Context, t tx.Tx, items []I) error
	Close(ctx context.Context) error
}

// Partitioner splits totalRecords input records into gridSize contiguous ranges.
type Partitioner interface {
	Partition(totalRecords, gridSize int) ([]model.PartitionContext, error)
}

// RecordCounter is implemented by readers that can count their input up front.
type RecordCounter interface {
	CountRecords(ctx context.Context) (int, error)
}

// JobExecutionListener receives job lifecycle callbacks.
type JobExecutionListener interface {
	// BeforeJob is called just before a job execution starts.
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	// AfterJob is called after a job execution reaches a terminal status.
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// StepExecutionListener receives step lifecycle callbacks.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// StopSignal reports whether a stop was requested for the running execution.
type StopSignal interface {
	StopRequested() bool
}

type contextKey string

const (
	stepExecutionKey contextKey = "stepExecution"
	workerNameKey    contextKey = "workerName"
	stopSignalKey    contextKey = "stopSignal"
)

// GetContextWithStepExecution stores a StepExecution in the Context.
func GetContextWithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, stepExecutionKey, se)
}

// GetStepExecutionFromContext retrieves a StepExecution from the Context. Returns nil if not found.
func GetStepExecutionFromContext(ctx context.Context) *model.StepExecution {
	if se, ok := ctx.Value(stepExecutionKey).(*model.StepExecution); ok {
		return se
	}
	return nil
}

// WithWorkerName tags ctx with the name of the worker processing records.
func WithWorkerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workerNameKey, name)
}

// WorkerNameFromContext returns the worker tag, falling back to the step name in ctx.
func WorkerNameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(workerNameKey).(string); ok && name != "" {
		return name
	}
	if se := GetStepExecutionFromContext(ctx); se != nil {
		return se.StepName
	}
	return ""
}

// WithStopSignal attaches the stop signal of the running execution to ctx.
func WithStopSignal(ctx context.Context, signal StopSignal) context.Context {
	return context.WithValue(ctx, stopSignalKey, signal)
}

// StopRequested reports whether the execution running under ctx was asked to stop.
func StopRequested(ctx context.Context) bool {
	if signal, ok := ctx.Value(stopSignalKey).(StopSignal); ok {
		return signal.StopRequested()
	}
	return false
}
