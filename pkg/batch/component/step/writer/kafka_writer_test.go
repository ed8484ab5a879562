package writer_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type capturePublisher struct {
	calls [][]kafka.Message
	err   error
}

func (p *capturePublisher) Publish(ctx context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, msgs)
	return nil
}

func TestKafkaWriter_PublishesChunkAsOneCallKeyedByIdentity(t *testing.T) {
	pub := &capturePublisher{}
	w := writer.NewKafkaWriter[person]("customerKafkaWriter", pub, func(p person) string { return strconv.FormatInt(p.ID, 10) })

	require.NoError(t, w.Write(context.Background(), tx.NoOpTx{}, []person{{7, "ADA"}, {9, "GRACE"}}))

	require.Len(t, pub.calls, 1)
	require.Len(t, pub.calls[0], 2)
	assert.Equal(t, "7", string(pub.calls[0][0].Key))
	var decoded person
	require.NoError(t, json.Unmarshal(pub.calls[0][1].Value, &decoded))
	assert.Equal(t, person{9, "GRACE"}, decoded)
}

func TestKafkaWriter_PropagatesSinkFailure(t *testing.T) {
	pub := &capturePublisher{err: exception.NewSinkWriteFailure("kafka", "failed to publish 1 messages", kafka.LeaderNotAvailable)}
	w := writer.NewKafkaWriter[person]("customerKafkaWriter", pub, func(p person) string { return strconv.FormatInt(p.ID, 10) })

	err := w.Write(context.Background(), tx.NoOpTx{}, []person{{1, "A"}})
	assert.ErrorIs(t, err, exception.ErrSinkWrite)
}
