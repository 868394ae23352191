package notification

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/smallbiznis/gigpay/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewBusNotifier),
	fx.Provide(func(n *BusNotifier) Notifier { return n }),
	fx.Invoke(registerSink),
)

func registerSink(router *message.Router, sub message.Subscriber, log *zap.Logger) {
	router.AddNoPublisherHandler("notification.log_sink", events.TopicNotifications, sub, LogSink(log))
}
