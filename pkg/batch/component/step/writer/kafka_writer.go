package writer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Publisher sends a set of messages as one unit.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaWriter is a port.ItemWriter publishing every item as a JSON message keyed by its
// identity. A chunk is one Publish call.
type KafkaWriter[T any] struct {
	name      string
	publisher Publisher
	keyOf     func(T) string
}

// NewKafkaWriter creates a new KafkaWriter.
func NewKafkaWriter[T any](name string, publisher Publisher, keyOf func(T) string) *KafkaWriter[T] {
	return &KafkaWriter[T]{name: name, publisher: publisher, keyOf: keyOf}
}

// Open does nothing; the publisher is shared and owned by the application.
func (w *KafkaWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	return nil
}

// Write encodes and publishes items. The transaction is not used.
func (w *KafkaWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(items))
	for _, item := range items {
		value, err := json.Marshal(item)
		if err != nil {
			return exception.NewBatchError("writer", fmt.Sprintf("KafkaWriter '%s': failed to encode item", w.name), err, false, false)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(w.keyOf(item)), Value: value})
	}
	if err := w.publisher.Publish(ctx, msgs...); err != nil {
		return err
	}
	logger.Debugf("KafkaWriter '%s': Published %d messages.", w.name, len(msgs))
	return nil
}

// Close does nothing.
func (w *KafkaWriter[T]) Close(ctx context.Context) error {
	return nil
}

var _ port.ItemWriter[any] = (*KafkaWriter[any])(nil)
