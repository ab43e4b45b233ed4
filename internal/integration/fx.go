package integration

import (
	"github.com/clinicware/payrail/internal/integration/repository"
	"github.com/clinicware/payrail/internal/integration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("integration.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
