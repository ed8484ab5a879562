// Package kafka adapts segmentio/kafka-go to the chunk engine: a keyed producer with bounded
// retries and a consumer-group listener that hands out bounded batches.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/segmentio/kafka-go"

	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// MessageWriter is the subset of *kafka.Writer the Producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes keyed messages, retrying transient failures a bounded number of times.
type Producer struct {
	writer  MessageWriter
	retries int
	delay   time.Duration
}

// NewWriter builds a *kafka.Writer from cfg. Messages are partitioned by a hash of their key,
// so all messages for one record identity land on the same partition. Retries are left to the
// Producer, so the writer itself makes a single attempt.
func NewWriter(cfg coreConfig.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: requiredAcks(cfg.Acks),
		MaxAttempts:  1,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}
}

// NewProducer creates a Producer making at most retries+1 attempts per publish.
func NewProducer(writer MessageWriter, retries int) *Producer {
	if retries < 0 {
		retries = 0
	}
	return &Producer{writer: writer, retries: retries, delay: 200 * time.Millisecond}
}

// WithRetryDelay sets the base delay between attempts.
func (p *Producer) WithRetryDelay(d time.Duration) *Producer {
	p.delay = d
	return p
}

// Publish writes msgs in one WriteMessages call. Only transient failures are retried; the
// final error is a SinkWriteFailure. A partially written batch is resent in full, so a retry
// can publish some records twice.
func (p *Producer) Publish(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	err := retry.Do(
		func() error {
			return p.writer.WriteMessages(ctx, msgs...)
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.retries+1)),
		retry.Delay(p.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnf("Kafka publish of %d messages failed (attempt %d/%d): %v", len(msgs), n+1, p.retries+1, err)
		}),
	)
	if err != nil {
		return exception.NewSinkWriteFailure("kafka", fmt.Sprintf("failed to publish %d messages", len(msgs)), err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// IsTransient reports whether a publish error is worth another attempt.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil && !IsTransient(e) {
				return false
			}
		}
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || exception.IsTemporary(err)
}

func requiredAcks(acks string) kafka.RequiredAcks {
	switch strings.ToLower(acks) {
	case "one", "1":
		return kafka.RequireOne
	case "none", "0":
		return kafka.RequireNone
	default:
		return kafka.RequireAll
	}
}
