package gateway

import (
	"strings"

	"github.com/rubhub/payouts/internal/config"
	"github.com/rubhub/payouts/internal/payout/domain"
)

type Registry struct {
	factories map[string]domain.GatewayFactory
}

func NewRegistry(factories ...domain.GatewayFactory) *Registry {
	registry := &Registry{factories: map[string]domain.GatewayFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

func (r *Registry) NewGateway(provider string, cfg domain.GatewayConfig) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewGateway(cfg)
}

// FromPayoutConfig builds the gateway named by the payout configuration.
func (r *Registry) FromPayoutConfig(cfg config.GatewayConfig) (domain.Gateway, error) {
	return r.NewGateway(cfg.Provider, domain.GatewayConfig{
		BaseURL:       cfg.BaseURL,
		APIToken:      cfg.APIToken,
		MasterAccount: cfg.MasterAccount,
		Timeout:       cfg.Timeout,
	})
}
