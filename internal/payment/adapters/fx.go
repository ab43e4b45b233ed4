package adapters

import (
	"github.com/clinicware/payrail/internal/payment/adapters/appmax"
	"github.com/clinicware/payrail/internal/payment/adapters/openfinance"
	"github.com/clinicware/payrail/internal/payment/adapters/pagarme"
	"github.com/clinicware/payrail/internal/payment/adapters/stripe"
	"github.com/clinicware/payrail/internal/provider"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.adapters",
	fx.Provide(ProvideRegistry),
)

// ProvideRegistry wires every supported provider factory. KRXPAY shares the
// Pagar.me API surface, so it registers a second pagarme factory.
func ProvideRegistry() *Registry {
	return NewRegistry(
		stripe.NewFactory(),
		pagarme.NewFactory(provider.Pagarme),
		pagarme.NewFactory(provider.Krxpay),
		appmax.NewFactory(),
		openfinance.NewFactory(),
	)
}
