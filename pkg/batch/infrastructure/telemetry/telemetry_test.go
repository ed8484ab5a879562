package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/telemetry"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func newExecution(t *testing.T) (*model.JobExecution, *model.StepExecution) {
	t.Helper()
	instance, err := model.NewJobInstance("csvToParquetJob", model.NewJobParametersBuilder().ToJobParameters())
	require.NoError(t, err)
	je := model.NewJobExecution(instance)
	return je, model.NewStepExecution(je, "csv-to-parquet-step")
}

func TestOTelTracer_StepSpanNestsUnderJobSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := telemetry.NewOTelTracer(tp)
	je, se := newExecution(t)

	jobCtx, endJob := tracer.StartJobSpan(context.Background(), je)
	stepCtx, endStep := tracer.StartStepSpan(jobCtx, se)
	tracer.RecordError(stepCtx, "writer", errors.New("disk full"))
	se.MarkAsFailed(errors.New("disk full"))
	endStep()
	require.NoError(t, je.MarkAsFailed(errors.New("disk full")))
	endJob()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	step, job := spans[0], spans[1]
	assert.Equal(t, "step csv-to-parquet-step", step.Name())
	assert.Equal(t, "job csvToParquetJob", job.Name())
	assert.Equal(t, job.SpanContext().SpanID(), step.Parent().SpanID())
	assert.Equal(t, codes.Error, step.Status().Code)
	assert.Equal(t, codes.Error, job.Status().Code)
	require.Len(t, step.Events(), 1)
	assert.Equal(t, "exception", step.Events()[0].Name)
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestOTelMetricRecorder_Counters(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r, err := telemetry.NewOTelMetricRecorder(mp)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r.RecordItemRead(ctx, "workerStep:partition-0", 50)
		r.RecordItemWrite(ctx, "workerStep:partition-0", 50)
		r.RecordChunkCommit(ctx, "workerStep:partition-0", 50)
	}
	r.RecordChunkRollback(ctx, "workerStep:partition-1", "transform_failure")
	r.RecordConsumerBatch(ctx, "customers", 10, 9, 1)
	r.RecordDuration(ctx, "bulk_save", time.Millisecond, map[string]string{"status": "success"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(250), sumOf(t, rm, "batch.step.items.read"))
	assert.Equal(t, int64(250), sumOf(t, rm, "batch.step.items.written"))
	assert.Equal(t, int64(5), sumOf(t, rm, "batch.step.commits"))
	assert.Equal(t, int64(1), sumOf(t, rm, "batch.step.rollbacks"))
	assert.Equal(t, int64(10), sumOf(t, rm, "batch.consumer.records"))
}

func TestNewProviders(t *testing.T) {
	p, err := telemetry.NewProviders(context.Background(), config.TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	_, err = telemetry.NewProviders(context.Background(), config.TracingConfig{Exporter: "zipkin"})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}
