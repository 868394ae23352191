package notification

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/gigpay/internal/events"
	obsmetrics "github.com/smallbiznis/gigpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidRecipient = errors.New("invalid_notification_recipient")

type BusParams struct {
	fx.In

	Publisher  message.Publisher
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// BusNotifier publishes notifications to the outbound topic.
type BusNotifier struct {
	publisher  message.Publisher
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewBusNotifier(p BusParams) *BusNotifier {
	return &BusNotifier{
		publisher:  p.Publisher,
		log:        p.Log.Named("notification.bus"),
		obsMetrics: p.ObsMetrics,
	}
}

func (n *BusNotifier) Emit(ctx context.Context, recipientRef string, kind Kind, payload map[string]any) error {
	recipientRef = strings.TrimSpace(recipientRef)
	if recipientRef == "" {
		return ErrInvalidRecipient
	}
	msg := Message{
		ID:           ulid.Make().String(),
		RecipientRef: recipientRef,
		Kind:         kind,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}
	err := events.PublishJSON(ctx, n.publisher, events.TopicNotifications, msg.ID, msg)
	result := "published"
	if err != nil {
		result = "error"
		n.log.Warn("failed to publish notification",
			zap.String("recipient_ref", recipientRef),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	n.obsMetrics.RecordNotification(ctx, string(kind), result)
	return err
}

// LogSink consumes the outbound topic and logs each message. It stands in
// for the delivery service in single-process deployments.
func LogSink(log *zap.Logger) message.NoPublishHandlerFunc {
	log = log.Named("notification.sink")
	return func(msg *message.Message) error {
		var out Message
		if err := json.Unmarshal(msg.Payload, &out); err != nil {
			log.Warn("dropping malformed notification", zap.String("message_id", msg.UUID), zap.Error(err))
			return nil
		}
		log.Info("notification emitted",
			zap.String("id", out.ID),
			zap.String("recipient_ref", out.RecipientRef),
			zap.String("kind", string(out.Kind)),
		)
		return nil
	}
}
