package job

import (
	"github.com/tigerroll/chunkflow/internal/domain/entity"
	customerReader "github.com/tigerroll/chunkflow/internal/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	coreJob "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
)

// Names of the csv-to-parquet job.
const (
	CsvToParquetJobName  = "csvToParquetJob"
	CsvToParquetStepName = "csv-to-parquet-step"
)

// NewCsvToParquetJob transforms the input file and exports it as Parquet, one file per chunk,
// to the output storage connection. outputFile, when given, is the object prefix.
func NewCsvToParquetJob(d Deps) port.Job {
	step := d.Factory.PerExecution(CsvToParquetStepName, func(params model.JobParameters) (port.Step, error) {
		batch := d.Config.Chunkflow.Batch
		chunkSize, err := chunkSizeParam(params, batch.ChunkSize)
		if err != nil {
			return nil, err
		}
		sink, err := writer.NewParquetWriter[*entity.Customer, entity.CustomerRow](CsvToParquetStepName, map[string]interface{}{
			"storageRef":    batch.OutputStorageRef,
			"outputBaseDir": stringParam(params, ParamOutputFile, batch.OutputDir),
		}, d.Resolver, &entity.CustomerRow{}, entity.ToRow)
		if err != nil {
			return nil, err
		}
		reader := customerReader.NewCustomerReader(d.readerOptions(params), d.Resolver)
		return factory.NewChunkStep[*entity.Customer, *entity.Customer](d.Factory, CsvToParquetStepName, reader, d.Processor, sink, chunkSize, nil), nil
	})
	return coreJob.NewSimpleJob(CsvToParquetJobName, step)
}
