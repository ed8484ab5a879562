package telemetry

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
)

// NewProvidersFromConfig builds the providers, installs them globally and shuts them down with the app.
func NewProvidersFromConfig(lc fx.Lifecycle, cfg *config.Config) (*Providers, error) {
	p, err := NewProviders(context.Background(), cfg.Chunkflow.Tracing)
	if err != nil {
		return nil, err
	}
	SetGlobal(p)
	lc.Append(fx.Hook{OnStop: p.Shutdown})
	return p, nil
}

// NewTracer provides the metrics.Tracer backed by p.
func NewTracer(p *Providers) metrics.Tracer {
	return NewOTelTracer(p.TracerProvider)
}

// NewRecorder provides the OpenTelemetry recorder backed by p.
func NewRecorder(p *Providers) (*OTelMetricRecorder, error) {
	return NewOTelMetricRecorder(p.MeterProvider)
}

// Module provides *Providers, metrics.Tracer and *OTelMetricRecorder.
var Module = fx.Options(
	fx.Provide(NewProvidersFromConfig),
	fx.Provide(NewTracer),
	fx.Provide(NewRecorder),
)
