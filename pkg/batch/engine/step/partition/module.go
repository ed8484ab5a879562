package partition

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/component/partitioner"
)

// Module provides the range partitioner used by partitioned steps.
var Module = fx.Options(
	fx.Provide(partitioner.NewRangePartitioner),
)
