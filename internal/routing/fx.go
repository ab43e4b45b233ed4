package routing

import (
	"github.com/clinicware/payrail/internal/routing/repository"
	"github.com/clinicware/payrail/internal/routing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("routing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
