package gateway

import (
	"fmt"

	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/gateway/adapters/paystack"
	"github.com/smallbiznis/gigpay/internal/gateway/adapters/stripe"
	"github.com/smallbiznis/gigpay/internal/gateway/domain"
	"github.com/smallbiznis/gigpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(ProvideRegistry),
	fx.Provide(ProvideGateway),
)

type Params struct {
	fx.In

	Config  config.Config
	Holder  *config.SettlementConfigHolder
	Log     *zap.Logger
	Metrics *metrics.SettlementMetrics `optional:"true"`
}

// ProvideRegistry builds every adapter whose credentials are configured.
func ProvideRegistry(p Params) (*Registry, error) {
	var gateways []domain.Gateway
	if p.Config.Gateway.PaystackSecretKey != "" {
		adapter, err := paystack.New(paystack.Config{
			SecretKey: p.Config.Gateway.PaystackSecretKey,
			BaseURL:   p.Config.Gateway.PaystackBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("paystack adapter: %w", err)
		}
		gateways = append(gateways, adapter)
	}
	if p.Config.Gateway.StripeSecretKey != "" {
		adapter, err := stripe.New(stripe.Config{
			SecretKey:     p.Config.Gateway.StripeSecretKey,
			WebhookSecret: p.Config.Gateway.StripeWebhookSecret,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe adapter: %w", err)
		}
		gateways = append(gateways, adapter)
	}
	return NewRegistry(gateways...), nil
}

// ProvideGateway returns the configured provider wrapped in the retry policy.
func ProvideGateway(p Params, registry *Registry) (domain.Gateway, error) {
	active, err := registry.Gateway(p.Config.Gateway.Provider)
	if err != nil {
		return nil, fmt.Errorf("gateway provider %q: %w", p.Config.Gateway.Provider, err)
	}
	p.Log.Info("transfer gateway configured", zap.String("provider", active.Provider()))
	return NewRetrying(active, p.Holder, p.Log, p.Metrics), nil
}
