// Package consumer drains the customer topic, transforms each record and persists the survivors.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tigerroll/chunkflow/internal/domain/entity"
	"github.com/tigerroll/chunkflow/internal/repository"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const moduleName = "CustomerBatchHandler"

// BatchResult summarises one consumed batch.
type BatchResult struct {
	Received  int
	Persisted int
	Failed    int
}

// CustomerBatchHandler applies the customer transformer to every message of a batch. A record
// that cannot be decoded or transformed is logged and dropped; the rest are saved with one
// SaveAll.
type CustomerBatchHandler struct {
	topic     string
	processor port.ItemProcessor[*entity.Customer, *entity.Customer]
	repo      repository.CustomerRepository
	recorder  metrics.MetricRecorder
}

// NewCustomerBatchHandler creates a CustomerBatchHandler. recorder may be nil.
func NewCustomerBatchHandler(
	topic string,
	processor port.ItemProcessor[*entity.Customer, *entity.Customer],
	repo repository.CustomerRepository,
	recorder metrics.MetricRecorder,
) *CustomerBatchHandler {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &CustomerBatchHandler{topic: topic, processor: processor, repo: repo, recorder: recorder}
}

// Handle processes msgs. The error is non-nil only when the bulk save fails, in which case no
// record of the batch was persisted.
func (h *CustomerBatchHandler) Handle(ctx context.Context, msgs []kafka.Message) (BatchResult, error) {
	start := time.Now()
	result := BatchResult{Received: len(msgs)}

	survivors := make([]*entity.Customer, 0, len(msgs))
	for _, msg := range msgs {
		out, err := h.transform(ctx, msg)
		if err != nil {
			result.Failed++
			logger.Warnf("%s: dropping record key=%s (partition %d, offset %d): %v", moduleName, string(msg.Key), msg.Partition, msg.Offset, err)
			continue
		}
		survivors = append(survivors, out)
	}

	status := "success"
	if len(survivors) > 0 {
		if err := h.repo.SaveAll(ctx, survivors); err != nil {
			status = "failure"
			h.recorder.RecordConsumerBatch(ctx, h.topic, result.Received, 0, result.Received)
			h.recorder.RecordDuration(ctx, "consumer_batch", time.Since(start), map[string]string{"topic": h.topic, "status": status})
			return result, exception.NewSinkWriteFailure(moduleName, fmt.Sprintf("failed to persist %d records", len(survivors)), err)
		}
	}
	result.Persisted = len(survivors)

	h.recorder.RecordConsumerBatch(ctx, h.topic, result.Received, result.Persisted, result.Failed)
	h.recorder.RecordDuration(ctx, "consumer_batch", time.Since(start), map[string]string{"topic": h.topic, "status": status})
	if result.Failed > 0 {
		logger.Warnf("%s: batch of %d persisted %d, dropped %d.", moduleName, result.Received, result.Persisted, result.Failed)
	} else {
		logger.Debugf("%s: batch of %d persisted.", moduleName, result.Persisted)
	}
	return result, nil
}

// HandleBatch adapts Handle to the kafka batch consumer.
func (h *CustomerBatchHandler) HandleBatch(ctx context.Context, msgs []kafka.Message) error {
	_, err := h.Handle(ctx, msgs)
	return err
}

func (h *CustomerBatchHandler) transform(ctx context.Context, msg kafka.Message) (*entity.Customer, error) {
	var in entity.Customer
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		return nil, exception.NewTransformFailure(moduleName, "undecodable message", err)
	}
	return h.processor.Process(ctx, &in)
}
