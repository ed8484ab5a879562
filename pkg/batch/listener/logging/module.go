package logging

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// Module adds the completion listener to the `jobListeners` group and the step listener to
// the `stepListeners` group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewJobCompletionListener,
		fx.As(new(port.JobExecutionListener)),
		fx.ResultTags(`group:"jobListeners"`),
	)),
	fx.Provide(fx.Annotate(
		NewStepLoggingListener,
		fx.As(new(port.StepExecutionListener)),
		fx.ResultTags(`group:"stepListeners"`),
	)),
)
