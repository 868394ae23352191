package settlement

import (
	"github.com/ThreeDotsLabs/watermill/message"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/events"
	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	"github.com/smallbiznis/gigpay/internal/settlement/repository"
	"github.com/smallbiznis/gigpay/internal/settlement/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("settlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(ProvideTrigger),
	fx.Invoke(registerConsumer),
)

// ProvideTrigger picks the event bus unless SETTLEMENT_DISPATCH=sync.
func ProvideTrigger(cfg config.Config, publisher message.Publisher, svc domain.Service) bookingdomain.SettlementTrigger {
	if cfg.AsyncSettlement() {
		return NewAsyncTrigger(publisher)
	}
	return NewSyncTrigger(svc)
}

func registerConsumer(cfg config.Config, router *message.Router, sub message.Subscriber, svc domain.Service, log *zap.Logger) {
	if !cfg.AsyncSettlement() {
		return
	}
	router.AddNoPublisherHandler("settlement.consumer", events.TopicSettlementRequested, sub, Consumer(svc, log))
}
