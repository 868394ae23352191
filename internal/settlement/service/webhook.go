package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	gatewaydomain "github.com/smallbiznis/gigpay/internal/gateway/domain"
	"github.com/smallbiznis/gigpay/internal/identity"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	webhookProcessed = "processed"
	webhookDuplicate = "duplicate"
	webhookIgnored   = "ignored"
	webhookInvalid   = "invalid"
	webhookError     = "error"
)

// HandleWebhook verifies and applies one gateway callback. Deliveries are
// deduplicated by (provider, event id); a delivery that failed midway is
// applied again on redelivery.
func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if s.registry == nil {
		return gatewaydomain.ErrProviderNotFound
	}
	parser, err := s.registry.WebhookParser(provider)
	if err != nil {
		return err
	}

	event, err := parser.ParseWebhook(ctx, payload, headers)
	if errors.Is(err, gatewaydomain.ErrEventIgnored) {
		s.metrics.RecordWebhook(provider, webhookIgnored)
		return nil
	}
	if err != nil {
		s.metrics.RecordWebhook(provider, webhookInvalid)
		return err
	}

	now := s.clock.Now().UTC()
	processed, err := s.webhooks.Record(ctx, s.db, domain.WebhookRecord{
		ID:         s.genID.Generate(),
		Provider:   provider,
		EventID:    event.EventID,
		EventType:  event.Type,
		Payload:    event.RawPayload,
		ReceivedAt: now,
	})
	if err != nil {
		s.metrics.RecordWebhook(provider, webhookError)
		return err
	}
	if processed {
		s.metrics.RecordWebhook(provider, webhookDuplicate)
		return nil
	}

	if err := s.applyWebhook(ctx, provider, event); err != nil {
		s.metrics.RecordWebhook(provider, webhookError)
		return err
	}
	if err := s.webhooks.MarkProcessed(ctx, s.db, provider, event.EventID, s.clock.Now().UTC()); err != nil {
		s.log.Warn("failed to mark webhook processed",
			zap.String("provider", provider),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
	s.metrics.RecordWebhook(provider, webhookProcessed)
	return nil
}

func (s *Service) applyWebhook(ctx context.Context, provider string, event *gatewaydomain.WebhookEvent) error {
	log := s.log.With(
		zap.String("provider", provider),
		zap.String("event_id", event.EventID),
		zap.String("type", event.Type),
		zap.String("reference", event.Reference),
	)

	switch event.Type {
	case gatewaydomain.WebhookChargeSuccess:
		bookingID, err := snowflake.ParseString(strings.TrimSpace(event.BookingRef))
		if err != nil || bookingID == 0 {
			return gatewaydomain.ErrInvalidPayload
		}
		externalRef := event.ExternalRef
		if externalRef == "" {
			externalRef = event.Reference
		}
		_, err = s.RecordOrganizerPayment(ctx, domain.OrganizerPaymentRequest{
			BookingID:   bookingID,
			Amount:      event.Amount,
			Currency:    event.Currency,
			ExternalRef: externalRef,
			Actor:       identity.System("webhook." + provider),
		})
		if errors.Is(err, bookingdomain.ErrBookingNotFound) || errors.Is(err, domain.ErrInvalidPayment) {
			log.Warn("charge callback dropped", zap.Error(err))
			return nil
		}
		return err

	case gatewaydomain.WebhookTransferSuccess,
		gatewaydomain.WebhookTransferFailed,
		gatewaydomain.WebhookTransferReversed,
		gatewaydomain.WebhookRefundProcessed,
		gatewaydomain.WebhookRefundFailed:
		txn, err := s.txnRepo.FindTransactionByKey(ctx, s.db, event.Reference)
		if err != nil {
			return err
		}
		if txn == nil {
			log.Debug("callback for unknown reference")
			return nil
		}
		if txn.Status != ledgerdomain.TransactionStatusPending {
			if event.Type == gatewaydomain.WebhookTransferReversed && txn.Status == ledgerdomain.TransactionStatusCompleted {
				log.Warn("completed transfer reversed by gateway", zap.String("transaction_id", txn.ID.String()))
				s.writeAudit(ctx, "settlement.transfer_reversed", *txn, nil, map[string]any{
					"event_id": event.EventID,
					"reason":   event.FailureReason,
				})
			}
			return nil
		}

		// the callback is a hint; the outcome is re-read from the gateway
		result, err := s.Settle(ctx, txn.BookingID, domain.TriggerWebhook)
		if result == nil && err != nil {
			if errors.Is(err, domain.ErrNotEligible) {
				log.Warn("callback for booking that is not settleable", zap.Error(err))
				return nil
			}
			return err
		}
		if err != nil {
			log.Warn("settlement after callback incomplete", zap.Error(err))
		}
		return nil
	}
	return nil
}

// RecordOrganizerPayment stores the captured organizer charge once and
// journals it into escrow.
func (s *Service) RecordOrganizerPayment(ctx context.Context, req domain.OrganizerPaymentRequest) (*ledgerdomain.Transaction, error) {
	externalRef := strings.TrimSpace(req.ExternalRef)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.BookingID == 0 || req.Amount <= 0 || externalRef == "" || len(currency) != 3 {
		return nil, domain.ErrInvalidPayment
	}

	booking, err := s.bookingRepo.FindByID(ctx, s.db, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, bookingdomain.ErrBookingNotFound
	}
	if !strings.EqualFold(booking.Currency, currency) {
		return nil, domain.ErrInvalidPayment
	}

	now := s.clock.Now().UTC()
	txn := ledgerdomain.Transaction{
		ID:             s.genID.Generate(),
		BookingID:      booking.ID,
		Kind:           ledgerdomain.KindOrganizerPayment,
		Status:         ledgerdomain.TransactionStatusCompleted,
		Amount:         req.Amount,
		Currency:       booking.Currency,
		IdempotencyKey: domain.IdempotencyKey(booking.ID, ledgerdomain.KindOrganizerPayment),
		ExternalRef:    &externalRef,
		Metadata:       datatypes.JSONMap{"recorded_by": req.Actor.Ref},
		CreatedAt:      now,
		UpdatedAt:      now,
		CompletedAt:    &now,
	}

	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.txnRepo.ReserveTransaction(ctx, tx, &txn)
		if err != nil || !ok {
			return err
		}
		inserted = true
		_, err = s.ledger.PostTransactionTx(ctx, tx, txn, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.txnRepo.FindTransaction(ctx, s.db, booking.ID, ledgerdomain.KindOrganizerPayment)
	}

	s.log.Info("organizer payment recorded",
		zap.String("booking_id", booking.ID.String()),
		zap.Int64("amount", txn.Amount),
		zap.String("external_ref", externalRef),
	)
	s.recordPaymentAudit(ctx, req.Actor, txn)
	return &txn, nil
}

func (s *Service) recordPaymentAudit(ctx context.Context, actor identity.Actor, txn ledgerdomain.Transaction) {
	if s.auditSvc == nil {
		return
	}
	actorType := auditdomain.ActorTypeUser
	if actor.Role == identity.RoleSystem || actor.Role == "" {
		actorType = auditdomain.ActorTypeSystem
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  actorType,
		ActorRef:   actor.Ref,
		ActorRole:  string(actor.Role),
		Action:     "settlement.payment_recorded",
		TargetType: "booking_transaction",
		TargetID:   txn.ID.String(),
		After: map[string]any{
			"status": string(txn.Status),
			"amount": txn.Amount,
		},
		Metadata: map[string]any{"booking_id": txn.BookingID.String()},
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", "settlement.payment_recorded"), zap.Error(err))
	}
}
