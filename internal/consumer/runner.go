package consumer

import (
	"context"
	"sync"

	chunkKafka "github.com/tigerroll/chunkflow/pkg/batch/adapter/messaging/kafka"
	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Runner owns the consumer group listeners of the customer topic.
type Runner struct {
	cfg     *coreConfig.Config
	handler *CustomerBatchHandler

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewRunner creates a Runner.
func NewRunner(cfg *coreConfig.Config, handler *CustomerBatchHandler) *Runner {
	return &Runner{cfg: cfg, handler: handler}
}

// Run consumes until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ccfg := r.cfg.Chunkflow.Consumer
	readers := chunkKafka.NewGroupReaders(r.cfg.Chunkflow.Kafka, ccfg)
	return r.RunWith(ctx, readers)
}

// RunWith consumes from readers until ctx is cancelled.
func (r *Runner) RunWith(ctx context.Context, readers []chunkKafka.MessageReader) error {
	ccfg := r.cfg.Chunkflow.Consumer
	c, err := chunkKafka.NewBatchConsumer(readers, r.handler.HandleBatch, chunkKafka.ConsumerOptions{
		MaxBatchSize: ccfg.MaxBatchSize,
		PollInterval: ccfg.PollInterval,
	})
	if err != nil {
		for _, rd := range readers {
			_ = rd.Close()
		}
		return err
	}
	return c.Run(ctx)
}

// Start runs the consumer in the background.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan error, 1)
	logger.Infof("Starting customer consumer on topic '%s' (group '%s').", r.cfg.Chunkflow.Kafka.Topic, r.cfg.Chunkflow.Consumer.GroupID)
	go func(done chan<- error) {
		done <- r.Run(runCtx)
	}(r.done)
}

// Stop cancels a started consumer and waits for its listeners to close.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
