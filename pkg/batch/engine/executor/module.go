package executor

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// NewPartitionPool creates the shared partition pool from the batch configuration.
func NewPartitionPool(lc fx.Lifecycle, cfg *config.Config) (*Pool, error) {
	pc := cfg.Chunkflow.Batch.Partition
	pool, err := NewPool(PoolOptions{
		Workers:       pc.PoolSize,
		QueueCapacity: pc.QueueCapacity,
		NamePrefix:    pc.ThreadPrefix,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pool.Shutdown(ctx)
		},
	})
	return pool, nil
}

// Module provides the partition worker pool.
var Module = fx.Options(
	fx.Provide(NewPartitionPool),
	fx.Provide(func(pool *Pool) TaskSubmitter { return pool }),
)
