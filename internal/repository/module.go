package repository

import (
	"go.uber.org/fx"
)

// Module provides the CustomerRepository.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewCustomerRepository,
		fx.As(new(CustomerRepository)),
	)),
)
