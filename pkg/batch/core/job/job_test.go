package job_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	job "github.com/tigerroll/chunkflow/pkg/batch/core/job"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type namedStep struct{ name string }

func (s namedStep) StepName() string { return s.name }
func (s namedStep) Execute(ctx context.Context, je *model.JobExecution, se *model.StepExecution) error {
	return nil
}

func TestSimpleJobValidateParameters(t *testing.T) {
	j := job.NewSimpleJob("csvToKafkaJob", namedStep{"csv-to-kafka-step"}).WithRequiredParameters("inputFile")

	err := j.ValidateParameters(model.NewJobParameters())
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "inputFile")

	params := model.NewJobParametersBuilder().AddString("inputFile", "customers.csv").ToJobParameters()
	assert.NoError(t, j.ValidateParameters(params))
	assert.Len(t, j.Steps(), 1)
}

func TestRegistry(t *testing.T) {
	r := job.NewRegistry(job.RegistryParams{Jobs: []port.Job{
		job.NewSimpleJob("b"),
		job.NewSimpleJob("a"),
	}})

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.JobName())
	assert.Equal(t, []string{"a", "b"}, r.Names())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, exception.ErrNotFound)
}
