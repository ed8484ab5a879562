package sql

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
)

// Module provides SQLJobRepository as the repository.JobRepository.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewSQLJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
)
