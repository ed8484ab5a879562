// Package listener aggregates the lifecycle listeners of the batch framework.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/listener/logging"
)

// Module aggregates all listener modules of the batch framework.
var Module = fx.Options(
	logging.Module,
)
