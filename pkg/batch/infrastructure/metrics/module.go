package metrics

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
)

// NewPrometheusRecorderFromConfig creates the recorder with the configured namespace.
func NewPrometheusRecorderFromConfig(cfg *config.Config) *PrometheusRecorder {
	return NewPrometheusRecorder(cfg.Chunkflow.Metrics.Namespace)
}

// Module provides *PrometheusRecorder. The application decides whether it joins the
// composite MetricRecorder.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorderFromConfig),
)
