package processor

import "go.uber.org/fx"

// Module provides the shared CustomerProcessor.
var Module = fx.Options(
	fx.Provide(NewCustomerProcessor),
)
