package subscription

import (
	"github.com/clinicware/payrail/internal/subscription/repository"
	"github.com/clinicware/payrail/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
