package delivery

import (
	"github.com/clinicware/payrail/internal/delivery/repository"
	"github.com/clinicware/payrail/internal/delivery/service"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
