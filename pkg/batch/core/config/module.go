package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Chunkflow.System.Logging
}

// Module provides *Config and its derived sections to Fx.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			func() *OsEnvironmentExpander { return NewOsEnvironmentExpander() },
			fx.As(new(EnvironmentExpander)),
		),
	),
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
)
