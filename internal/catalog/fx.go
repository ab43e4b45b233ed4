package catalog

import (
	"github.com/clinicware/payrail/internal/catalog/repository"
	"github.com/clinicware/payrail/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
