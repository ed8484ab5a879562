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

// Names of the partitioned import job.
const (
	PartitionedImportJobName = "partitionedImportCustomers"
	MasterStepName           = "masterStep"
	WorkerStepName           = "workerStep"
)

// upsertColumns are overwritten when a replayed chunk meets an existing row.
var upsertColumns = []string{"first_name", "last_name", "email", "gender", "contact_no", "country", "dob", "processed_at", "processed_by"}

// NewPartitionedImportJob splits the input file into grid-size ranges and imports each range
// into the customers table on its own worker, transforming every record on the way.
func NewPartitionedImportJob(d Deps) port.Job {
	pc := d.Config.Chunkflow.Batch.Partition
	master := d.Factory.PerExecution(MasterStepName, func(params model.JobParameters) (port.Step, error) {
		chunkSize, err := chunkSizeParam(params, pc.ChunkSize)
		if err != nil {
			return nil, err
		}
		opts := d.readerOptions(params)
		newWorker := func(p model.PartitionContext) (port.Step, error) {
			sink := writer.NewSqlBulkWriter[*entity.Customer](WorkerStepName, chunkSize, entity.Customer{}.TableName(), []string{"id"}, upsertColumns)
			return factory.NewChunkStep[*entity.Customer, *entity.Customer](
				d.Factory,
				model.PartitionStepName(WorkerStepName, p),
				customerReader.NewCustomerReader(opts, d.Resolver),
				d.Processor,
				sink,
				chunkSize,
				d.Factory.TransactionManager(),
			), nil
		}
		counter := customerReader.NewCustomerReader(opts, d.Resolver)
		return d.Factory.NewPartitionStep(MasterStepName, WorkerStepName, pc.GridSize, counter, newWorker), nil
	})
	return coreJob.NewSimpleJob(PartitionedImportJobName, master)
}
