package usecase

import (
	"context"

	"go.uber.org/fx"
)

// Module is the Fx module for JobLauncher, JobOperator, JobExplorer and MonitoringService.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewSimpleJobExplorer,
		fx.As(new(JobExplorer)),
	)),
	fx.Provide(NewSimpleJobLauncher),
	fx.Provide(func(launcher *SimpleJobLauncher) JobLauncher { return launcher }),
	fx.Provide(fx.Annotate(
		NewDefaultJobOperator,
		fx.As(new(JobOperator)),
	)),
	fx.Provide(NewMonitoringService),
	// Running executions are asked to stop and drained before the process exits.
	fx.Invoke(func(lc fx.Lifecycle, launcher *SimpleJobLauncher) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return launcher.Shutdown(ctx)
			},
		})
	}),
)
