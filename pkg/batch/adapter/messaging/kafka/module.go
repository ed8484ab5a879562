package kafka

import (
	"context"

	"go.uber.org/fx"

	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NewProducerFromConfig creates the application Producer and closes it on shutdown.
func NewProducerFromConfig(lc fx.Lifecycle, cfg *coreConfig.Config) *Producer {
	kcfg := cfg.Chunkflow.Kafka
	p := NewProducer(NewWriter(kcfg), kcfg.Retries)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing Kafka producer for topic '%s'.", kcfg.Topic)
			return p.Close()
		},
	})
	return p
}

// Module provides the Kafka Producer.
var Module = fx.Options(
	fx.Provide(NewProducerFromConfig),
)
