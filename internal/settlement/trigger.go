package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/events"
	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	"go.uber.org/zap"
)

// Request is the message published for every SettlementRequested event.
type Request struct {
	BookingID  snowflake.ID         `json:"booking_id"`
	Status     bookingdomain.Status `json:"status"`
	Action     bookingdomain.Action `json:"action"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// AsyncTrigger hands settlement requests to the event bus.
type AsyncTrigger struct {
	publisher message.Publisher
}

func NewAsyncTrigger(publisher message.Publisher) *AsyncTrigger {
	return &AsyncTrigger{publisher: publisher}
}

func (t *AsyncTrigger) RequestSettlement(ctx context.Context, event bookingdomain.Event) error {
	return events.PublishJSON(ctx, t.publisher, events.TopicSettlementRequested, "", Request{
		BookingID:  event.BookingID,
		Status:     event.To,
		Action:     event.Action,
		OccurredAt: event.OccurredAt,
	})
}

// SyncTrigger settles in the caller's goroutine.
type SyncTrigger struct {
	svc domain.Service
}

func NewSyncTrigger(svc domain.Service) *SyncTrigger {
	return &SyncTrigger{svc: svc}
}

func (t *SyncTrigger) RequestSettlement(ctx context.Context, event bookingdomain.Event) error {
	_, err := t.svc.Settle(ctx, event.BookingID, domain.TriggerTransition)
	return err
}

// Consumer settles bookings named by messages on the settlement topic.
// Only storage failures are returned so the router retries them; leg
// outcomes are left to the sweep.
func Consumer(svc domain.Service, log *zap.Logger) message.NoPublishHandlerFunc {
	log = log.Named("settlement.consumer")
	return func(msg *message.Message) error {
		var req Request
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.BookingID == 0 {
			log.Warn("dropping malformed settlement request", zap.String("message_id", msg.UUID))
			return nil
		}

		result, err := svc.Settle(msg.Context(), req.BookingID, domain.TriggerEvent)
		if result == nil && err != nil {
			if errors.Is(err, domain.ErrNotEligible) || errors.Is(err, bookingdomain.ErrBookingNotFound) {
				log.Warn("settlement request dropped",
					zap.String("booking_id", req.BookingID.String()),
					zap.Error(err),
				)
				return nil
			}
			return err
		}
		if err != nil {
			log.Warn("settlement incomplete",
				zap.String("booking_id", req.BookingID.String()),
				zap.Error(err),
			)
		}
		return nil
	}
}
