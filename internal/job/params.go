package job

import (
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// Job parameter keys understood by the customer jobs.
const (
	ParamInputFile  = "inputFile"
	ParamOutputFile = "outputFile"
	ParamChunkSize  = "chunkSize"
)

// NewParameters builds launch parameters. Empty values are left out so the configured defaults
// apply; extra string parameters are copied as given. The run timestamp is always added.
func NewParameters(inputFile, outputFile string, chunkSize int, extra map[string]string) model.JobParameters {
	b := model.NewJobParametersBuilder()
	if inputFile != "" {
		b.AddString(ParamInputFile, inputFile)
	}
	if outputFile != "" {
		b.AddString(ParamOutputFile, outputFile)
	}
	if chunkSize > 0 {
		b.AddLong(ParamChunkSize, int64(chunkSize))
	}
	for k, v := range extra {
		b.AddString(k, v)
	}
	return b.ToJobParameters()
}

func stringParam(params model.JobParameters, key, fallback string) string {
	if v, ok := params.GetString(key); ok && v != "" {
		return v
	}
	return fallback
}

func chunkSizeParam(params model.JobParameters, fallback int) (int, error) {
	if _, present := params.Get(ParamChunkSize); !present {
		return fallback, nil
	}
	v, ok := params.GetLong(ParamChunkSize)
	if !ok || v < 1 {
		return 0, exception.NewInvalidArgumentError("job", fmt.Sprintf("%s must be a positive integer", ParamChunkSize))
	}
	return int(v), nil
}
