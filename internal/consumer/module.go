package consumer

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/internal/repository"
	"github.com/tigerroll/chunkflow/internal/step/processor"
	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// NewHandlerFromConfig creates the handler of the configured topic.
func NewHandlerFromConfig(cfg *coreConfig.Config, p *processor.CustomerProcessor, repo repository.CustomerRepository, recorder metrics.MetricRecorder) *CustomerBatchHandler {
	return NewCustomerBatchHandler(cfg.Chunkflow.Kafka.Topic, p, repo, recorder)
}

// RegisterLifecycle starts the consumer with the application when consumer.enabled is set.
func RegisterLifecycle(lc fx.Lifecycle, cfg *coreConfig.Config, r *Runner) {
	if !cfg.Chunkflow.Consumer.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.Start(ctx)
			return nil
		},
		OnStop: r.Stop,
	})
}

// Module provides the customer consumer.
var Module = fx.Options(
	fx.Provide(NewHandlerFromConfig, NewRunner),
	fx.Invoke(RegisterLifecycle),
)
