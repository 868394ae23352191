package gateway

import (
	"strings"

	"github.com/smallbiznis/gigpay/internal/gateway/domain"
)

type Registry struct {
	gateways map[string]domain.Gateway
	parsers  map[string]domain.WebhookParser
}

func NewRegistry(gateways ...domain.Gateway) *Registry {
	registry := &Registry{
		gateways: map[string]domain.Gateway{},
		parsers:  map[string]domain.WebhookParser{},
	}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		provider := normalizeProvider(gw.Provider())
		if provider == "" {
			continue
		}
		registry.gateways[provider] = gw
		if parser, ok := gw.(domain.WebhookParser); ok {
			registry.parsers[provider] = parser
		}
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.gateways[normalizeProvider(provider)]
	return ok
}

func (r *Registry) Gateway(provider string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	gw, ok := r.gateways[normalizeProvider(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return gw, nil
}

func (r *Registry) WebhookParser(provider string) (domain.WebhookParser, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	parser, ok := r.parsers[normalizeProvider(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return parser, nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
