package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to batch execution.
// Implementations exist for Prometheus and OpenTelemetry; NoOpMetricRecorder is the fallback.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	// RecordJobEnd records the terminal status and duration of a JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	// RecordStepEnd records the end of a StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)
	// RecordItemRead records count items read by a step.
	RecordItemRead(ctx context.Context, stepName string, count int)
	// RecordItemWrite records count items written by a step.
	RecordItemWrite(ctx context.Context, stepName string, count int)
	// RecordChunkCommit records a committed chunk of count items.
	RecordChunkCommit(ctx context.Context, stepName string, count int)
	// RecordChunkRollback records a chunk rolled back because of reason (an error kind).
	RecordChunkRollback(ctx context.Context, stepName string, reason string)
	// RecordConsumerBatch records one consumed bus batch.
	RecordConsumerBatch(ctx context.Context, topic string, received, persisted, failed int)
	// RecordDuration records the execution time of an operation.
	//
	// tags: additional attributes, for example {"topic": "customers", "status": "success"}.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
