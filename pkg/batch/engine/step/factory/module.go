package factory

import "go.uber.org/fx"

// Module provides the StepFactory.
var Module = fx.Options(
	fx.Provide(NewStepFactory),
)
