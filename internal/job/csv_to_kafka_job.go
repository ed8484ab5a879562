package job

import (
	"github.com/tigerroll/chunkflow/internal/domain/entity"
	customerReader "github.com/tigerroll/chunkflow/internal/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	csvReader "github.com/tigerroll/chunkflow/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkflow/pkg/batch/component/step/writer"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	coreJob "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
)

// Names of the csv-to-kafka job.
const (
	CsvToKafkaJobName  = "csvToKafkaJob"
	CsvToKafkaStepName = "csv-to-kafka-step"
)

// NewCsvToKafkaJob publishes every customer of the input file to the bus, keyed by its id.
// Records are transformed by the consumer, not here.
func NewCsvToKafkaJob(d Deps) port.Job {
	step := d.Factory.PerExecution(CsvToKafkaStepName, func(params model.JobParameters) (port.Step, error) {
		chunkSize, err := chunkSizeParam(params, d.Config.Chunkflow.Batch.ChunkSize)
		if err != nil {
			return nil, err
		}
		reader := customerReader.NewCustomerReader(d.readerOptions(params), d.Resolver)
		sink := writer.NewKafkaWriter[*entity.Customer](CsvToKafkaStepName, d.Publisher, func(c *entity.Customer) string { return c.Key() })
		return factory.NewChunkStep[*entity.Customer, *entity.Customer](
			d.Factory, CsvToKafkaStepName, reader, item.NewPassThroughItemProcessor[*entity.Customer](), sink, chunkSize, nil,
		), nil
	})
	return coreJob.NewSimpleJob(CsvToKafkaJobName, step)
}

func (d Deps) readerOptions(params model.JobParameters) csvReader.CSVReaderOptions {
	batch := d.Config.Chunkflow.Batch
	return csvReader.CSVReaderOptions{
		Path:       stringParam(params, ParamInputFile, batch.InputFile),
		StorageRef: batch.InputStorageRef,
		Strict:     batch.Strict,
	}
}
