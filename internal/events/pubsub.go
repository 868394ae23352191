package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gigpay/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TopicSettlementRequested = "settlement.requested"
	TopicNotifications       = "notifications.outbound"

	consumerGroup = "gigpay"
)

type PubSubParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Logger    watermill.LoggerAdapter
	Redis     *redis.Client `optional:"true"`
}

// NewPubSub returns Redis Streams when Redis is configured, otherwise an
// in-process channel. The in-process bus loses messages on restart; the
// retry sweep picks up anything that was never settled.
func NewPubSub(p PubSubParams) (message.Publisher, message.Subscriber, error) {
	if p.Redis != nil {
		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client: p.Redis,
		}, p.Logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis publisher: %w", err)
		}
		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        p.Redis,
			ConsumerGroup: consumerGroup,
		}, p.Logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis subscriber: %w", err)
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return closeAll(publisher, subscriber)
			},
		})
		p.Log.Info("event bus using redis streams")
		return publisher, subscriber, nil
	}

	channel := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, p.Logger)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return channel.Close()
		},
	})
	p.Log.Info("event bus using in-process channel")
	return channel, channel, nil
}

func closeAll(publisher message.Publisher, subscriber message.Subscriber) error {
	pubErr := publisher.Close()
	subErr := subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// PublishJSON encodes payload into a message carrying the trace context.
func PublishJSON(ctx context.Context, publisher message.Publisher, topic, id string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, body)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))
	msg.SetContext(ctx)
	return publisher.Publish(topic, msg)
}
