package telemetry

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// OTelMetricRecorder implements metrics.MetricRecorder with OpenTelemetry instruments.
type OTelMetricRecorder struct {
	jobDuration       metric.Float64Histogram
	stepDuration      metric.Float64Histogram
	operationDuration metric.Float64Histogram
	itemsRead         metric.Int64Counter
	itemsWritten      metric.Int64Counter
	commits           metric.Int64Counter
	rollbacks         metric.Int64Counter
	consumerRecords   metric.Int64Counter
}

// NewOTelMetricRecorder creates the instruments on a meter from mp.
func NewOTelMetricRecorder(mp metric.MeterProvider) (*OTelMetricRecorder, error) {
	meter := mp.Meter(instrumentationName)
	r := &OTelMetricRecorder{}
	var (
		result *multierror.Error
		err    error
	)
	collect := func(e error) {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}

	r.jobDuration, err = meter.Float64Histogram("batch.job.duration", metric.WithUnit("s"), metric.WithDescription("Duration of job executions."))
	collect(err)
	r.stepDuration, err = meter.Float64Histogram("batch.step.duration", metric.WithUnit("s"), metric.WithDescription("Duration of step executions."))
	collect(err)
	r.operationDuration, err = meter.Float64Histogram("batch.operation.duration", metric.WithUnit("s"), metric.WithDescription("Duration of named operations."))
	collect(err)
	r.itemsRead, err = meter.Int64Counter("batch.step.items.read", metric.WithDescription("Records read."))
	collect(err)
	r.itemsWritten, err = meter.Int64Counter("batch.step.items.written", metric.WithDescription("Records written."))
	collect(err)
	r.commits, err = meter.Int64Counter("batch.step.commits", metric.WithDescription("Committed chunks."))
	collect(err)
	r.rollbacks, err = meter.Int64Counter("batch.step.rollbacks", metric.WithDescription("Rolled back chunks."))
	collect(err)
	r.consumerRecords, err = meter.Int64Counter("batch.consumer.records", metric.WithDescription("Consumed records by outcome."))
	collect(err)

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {}

func (r *OTelMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	if execution.EndTime == nil {
		return
	}
	r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), metric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	))
}

func (r *OTelMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {}

func (r *OTelMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	if execution.EndTime == nil {
		return
	}
	r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), metric.WithAttributes(
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	))
}

func (r *OTelMetricRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.itemsRead.Add(ctx, int64(count), metric.WithAttributes(attribute.String("step_name", stepName)))
}

func (r *OTelMetricRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemsWritten.Add(ctx, int64(count), metric.WithAttributes(attribute.String("step_name", stepName)))
}

func (r *OTelMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.commits.Add(ctx, 1, metric.WithAttributes(attribute.String("step_name", stepName)))
}

func (r *OTelMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("step_name", stepName), attribute.String("reason", reason)))
}

func (r *OTelMetricRecorder) RecordConsumerBatch(ctx context.Context, topic string, received, persisted, failed int) {
	r.consumerRecords.Add(ctx, int64(persisted), metric.WithAttributes(attribute.String("topic", topic), attribute.String("outcome", "persisted")))
	r.consumerRecords.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("topic", topic), attribute.String("outcome", "failed")))
}

func (r *OTelMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelMetricRecorder)(nil)
