// Package job defines the customer batch jobs.
package job

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/internal/step/processor"
	storageAdapter "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	coreConfig "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
)

// Deps are the collaborators shared by the job definitions.
type Deps struct {
	fx.In
	Config    *coreConfig.Config
	Factory   *factory.StepFactory
	Resolver  storageAdapter.StorageConnectionResolver
	Publisher writer.Publisher
	Processor *processor.CustomerProcessor
}

func asJob(f interface{}) fx.Option {
	return fx.Provide(fx.Annotate(f, fx.ResultTags(`group:"jobs"`)))
}

// Module adds the customer jobs to the `jobs` group.
var Module = fx.Options(
	asJob(NewCsvToKafkaJob),
	asJob(NewPartitionedImportJob),
	asJob(NewCsvToParquetJob),
)
