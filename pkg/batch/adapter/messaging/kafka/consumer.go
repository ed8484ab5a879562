package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// MessageReader is the subset of *kafka.Reader a listener uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BatchHandler processes one batch. Offsets are committed only when it returns nil; on error
// the same batch is handed back after a backoff. The listener name is available through
// port.WorkerNameFromContext.
type BatchHandler func(ctx context.Context, msgs []kafka.Message) error

const maxRetryWait = 30 * time.Second

// ConsumerOptions configures a BatchConsumer.
type ConsumerOptions struct {
	MaxBatchSize int
	PollInterval time.Duration
}

// BatchConsumer runs one listener per reader, all in the same consumer group.
type BatchConsumer struct {
	readers []MessageReader
	handler BatchHandler
	opts    ConsumerOptions

	batches  *atomic.Int64
	failures *atomic.Int64
}

// NewGroupReaders creates cfg.Concurrency readers joined to the configured consumer group.
func NewGroupReaders(kcfg coreConfig.KafkaConfig, cfg coreConfig.ConsumerConfig) []MessageReader {
	readers := make([]MessageReader, 0, cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  kcfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    kcfg.Topic,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
			MaxWait:  cfg.PollInterval,
		}))
	}
	return readers
}

// NewBatchConsumer creates a BatchConsumer over readers.
func NewBatchConsumer(readers []MessageReader, handler BatchHandler, opts ConsumerOptions) (*BatchConsumer, error) {
	if len(readers) == 0 {
		return nil, exception.NewInvalidArgumentError("kafka", "consumer needs at least one reader")
	}
	if opts.MaxBatchSize < 1 {
		return nil, exception.NewInvalidArgumentError("kafka", fmt.Sprintf("max batch size must be >= 1, got %d", opts.MaxBatchSize))
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &BatchConsumer{
		readers:  readers,
		handler:  handler,
		opts:     opts,
		batches:  atomic.NewInt64(0),
		failures: atomic.NewInt64(0),
	}, nil
}

// Run blocks until ctx is cancelled or a listener fails to commit, then closes every reader.
func (c *BatchConsumer) Run(ctx context.Context) error {
	logger.Infof("Kafka batch consumer starting %d listeners (max batch %d, poll interval %s).", len(c.readers), c.opts.MaxBatchSize, c.opts.PollInterval)
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range c.readers {
		listener := fmt.Sprintf("listener-%d", i+1)
		r := r
		g.Go(func() error {
			return c.listen(gctx, listener, r)
		})
	}
	err := g.Wait()

	for _, r := range c.readers {
		if closeErr := r.Close(); closeErr != nil {
			logger.Warnf("Kafka batch consumer: failed to close reader: %v", closeErr)
		}
	}
	logger.Infof("Kafka batch consumer stopped after %d batches (%d failed).", c.batches.Load(), c.failures.Load())
	return err
}

// Batches returns the number of batches handled successfully.
func (c *BatchConsumer) Batches() int64 {
	return c.batches.Load()
}

// Failures returns the number of failed handler attempts.
func (c *BatchConsumer) Failures() int64 {
	return c.failures.Load()
}

func (c *BatchConsumer) listen(ctx context.Context, name string, r MessageReader) error {
	for {
		batch, err := c.fetchBatch(ctx, r)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Errorf("Kafka %s: fetch failed: %v", name, err)
			if len(batch) == 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(c.opts.PollInterval):
				}
				continue
			}
		}
		if len(batch) == 0 {
			continue
		}

		if !c.handle(ctx, name, batch) {
			return nil
		}
		if err := r.CommitMessages(ctx, batch...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return exception.NewBatchError("kafka", fmt.Sprintf("%s: failed to commit %d offsets", name, len(batch)), err, false, true)
		}
		c.batches.Inc()
		logger.Debugf("Kafka %s: committed batch of %d messages.", name, len(batch))
	}
}

// handle retries batch until the handler accepts it or ctx ends. Nothing further is fetched
// meanwhile, so a later commit never covers an unhandled offset. Reports false when ctx ended.
func (c *BatchConsumer) handle(ctx context.Context, name string, batch []kafka.Message) bool {
	wait := c.opts.PollInterval
	for attempt := 1; ; attempt++ {
		err := c.handler(port.WithWorkerName(ctx, name), batch)
		if err == nil {
			return true
		}
		c.failures.Inc()
		if ctx.Err() != nil {
			return false
		}
		logger.Errorf("Kafka %s: batch of %d messages failed (attempt %d), retrying in %s: %v", name, len(batch), attempt, wait, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if wait < maxRetryWait {
			wait *= 2
			if wait > maxRetryWait {
				wait = maxRetryWait
			}
		}
	}
}

// fetchBatch collects up to MaxBatchSize messages, waiting at most PollInterval.
func (c *BatchConsumer) fetchBatch(ctx context.Context, r MessageReader) ([]kafka.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.opts.PollInterval)
	defer cancel()

	batch := make([]kafka.Message, 0, c.opts.MaxBatchSize)
	for len(batch) < c.opts.MaxBatchSize {
		msg, err := r.FetchMessage(pollCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}
