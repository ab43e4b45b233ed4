package customer

import (
	"github.com/clinicware/payrail/internal/customer/repository"
	"github.com/clinicware/payrail/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
