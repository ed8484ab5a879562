package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// CompositeMetricRecorder fans every call out to several recorders.
type CompositeMetricRecorder struct {
	recorders []MetricRecorder
}

// NewCompositeMetricRecorder creates a recorder over recorders, ignoring nil entries.
// With no usable recorder it returns a NoOpMetricRecorder.
func NewCompositeMetricRecorder(recorders ...MetricRecorder) MetricRecorder {
	active := make([]MetricRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			active = append(active, r)
		}
	}
	switch len(active) {
	case 0:
		return NewNoOpMetricRecorder()
	case 1:
		return active[0]
	}
	return &CompositeMetricRecorder{recorders: active}
}

func (c *CompositeMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	for _, r := range c.recorders {
		r.RecordJobStart(ctx, execution)
	}
}

func (c *CompositeMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	for _, r := range c.recorders {
		r.RecordJobEnd(ctx, execution)
	}
}

func (c *CompositeMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	for _, r := range c.recorders {
		r.RecordStepStart(ctx, execution)
	}
}

func (c *CompositeMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	for _, r := range c.recorders {
		r.RecordStepEnd(ctx, execution)
	}
}

func (c *CompositeMetricRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	for _, r := range c.recorders {
		r.RecordItemRead(ctx, stepName, count)
	}
}

func (c *CompositeMetricRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	for _, r := range c.recorders {
		r.RecordItemWrite(ctx, stepName, count)
	}
}

func (c *CompositeMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	for _, r := range c.recorders {
		r.RecordChunkCommit(ctx, stepName, count)
	}
}

func (c *CompositeMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	for _, r := range c.recorders {
		r.RecordChunkRollback(ctx, stepName, reason)
	}
}

func (c *CompositeMetricRecorder) RecordConsumerBatch(ctx context.Context, topic string, received, persisted, failed int) {
	for _, r := range c.recorders {
		r.RecordConsumerBatch(ctx, topic, received, persisted, failed)
	}
}

func (c *CompositeMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	for _, r := range c.recorders {
		r.RecordDuration(ctx, name, duration, tags)
	}
}

var _ MetricRecorder = (*CompositeMetricRecorder)(nil)
