package transaction

import (
	"github.com/clinicware/payrail/internal/transaction/repository"
	"github.com/clinicware/payrail/internal/transaction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
