package openfinance

import (
	"github.com/clinicware/payrail/internal/openfinance/repository"
	"github.com/clinicware/payrail/internal/openfinance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("openfinance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
