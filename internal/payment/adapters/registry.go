package adapters

import (
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
)

// Registry is the single dispatch point from the provider enum to a concrete
// adapter factory. No call site branches on provider strings.
type Registry struct {
	factories map[provider.Provider]paymentdomain.AdapterFactory
}

func NewRegistry(factories ...paymentdomain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[provider.Provider]paymentdomain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		p := factory.Provider()
		if !p.Valid() {
			continue
		}
		registry.factories[p] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(p provider.Provider) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[p]
	return ok
}

func (r *Registry) NewAdapter(p provider.Provider, cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	if r == nil {
		return nil, paymentdomain.ErrProviderNotFound
	}
	factory, ok := r.factories[p]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}
