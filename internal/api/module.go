package api

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/internal/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
)

// NewHealthCheckerFromConfig probes the configured brokers.
func NewHealthCheckerFromConfig(db *gorm.DB, cfg *coreConfig.Config, explorer usecase.JobExplorer) *HealthChecker {
	return NewHealthChecker(db, cfg.Chunkflow.Kafka.Brokers, explorer, nil)
}

// NewHandlerFromDeps wires the handler, serving /metrics when Prometheus is enabled.
func NewHandlerFromDeps(cfg *coreConfig.Config, monitor *usecase.MonitoringService, launcher usecase.JobLauncher, customers repository.CustomerRepository, health *HealthChecker, prom *metrics.PrometheusRecorder) *Handler {
	h := NewHandler(monitor, launcher, customers, health, nil)
	if cfg.Chunkflow.Metrics.Enabled {
		h.metrics = prom.Handler()
	}
	return h
}

// NewServerFromConfig creates the server on the configured address and ties it to the lifecycle.
func NewServerFromConfig(lc fx.Lifecycle, cfg *coreConfig.Config, h *Handler) *Server {
	s := NewServer(cfg.Chunkflow.API.Addr, h)
	lc.Append(fx.Hook{OnStart: s.Start, OnStop: s.Stop})
	return s
}

// Module provides the HTTP API. The server starts when something depends on *Server.
var Module = fx.Options(
	fx.Provide(NewHealthCheckerFromConfig, NewHandlerFromDeps, NewServerFromConfig),
)
