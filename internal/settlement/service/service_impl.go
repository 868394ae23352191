package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/smallbiznis/gigpay/internal/gateway"
	gatewaydomain "github.com/smallbiznis/gigpay/internal/gateway/domain"
	"github.com/smallbiznis/gigpay/internal/identity"
	"github.com/smallbiznis/gigpay/internal/kyc"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	"github.com/smallbiznis/gigpay/internal/notification"
	obscontext "github.com/smallbiznis/gigpay/internal/observability/context"
	obslogger "github.com/smallbiznis/gigpay/internal/observability/logger"
	"github.com/smallbiznis/gigpay/internal/observability/metrics"
	"github.com/smallbiznis/gigpay/internal/settlement/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	BookingRepo bookingdomain.Repository
	TxnRepo     ledgerdomain.Repository
	Ledger      ledgerdomain.Service
	Gateway     gatewaydomain.Gateway
	Verifier    kyc.Verifier
	Webhooks    domain.WebhookRepository
	Holder      *config.SettlementConfigHolder `optional:"true"`
	Registry    *gateway.Registry              `optional:"true"`
	Resolutions domain.ResolutionSource        `optional:"true"`
	Notifier    notification.Notifier          `optional:"true"`
	AuditSvc    auditdomain.Service            `optional:"true"`
	Metrics     *metrics.SettlementMetrics     `optional:"true"`
	ObsMetrics  *metrics.Metrics               `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	bookingRepo bookingdomain.Repository
	txnRepo     ledgerdomain.Repository
	ledger      ledgerdomain.Service
	gateway     gatewaydomain.Gateway
	verifier    kyc.Verifier
	webhooks    domain.WebhookRepository
	holder      *config.SettlementConfigHolder
	registry    *gateway.Registry
	resolutions domain.ResolutionSource
	notifier    notification.Notifier
	auditSvc    auditdomain.Service
	metrics     *metrics.SettlementMetrics
	obsMetrics  *metrics.Metrics
	tracer      trace.Tracer
}

func NewService(p Params) domain.Service {
	return New(p)
}

// New returns the concrete orchestrator; tests use it to reach internals.
func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("settlement.service"),
		genID:       p.GenID,
		clock:       clk,
		bookingRepo: p.BookingRepo,
		txnRepo:     p.TxnRepo,
		ledger:      p.Ledger,
		gateway:     p.Gateway,
		verifier:    p.Verifier,
		webhooks:    p.Webhooks,
		holder:      p.Holder,
		registry:    p.Registry,
		resolutions: p.Resolutions,
		notifier:    notifier,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
		obsMetrics:  p.ObsMetrics,
		tracer:      otel.Tracer("gigpay/settlement"),
	}
}

func (s *Service) RetrySettlement(ctx context.Context, bookingID snowflake.ID) (*domain.Result, error) {
	return s.Settle(ctx, bookingID, domain.TriggerOperator)
}

func (s *Service) Settle(ctx context.Context, bookingID snowflake.ID, trigger domain.Trigger) (*domain.Result, error) {
	if !trigger.Valid() {
		return nil, domain.ErrInvalidTrigger
	}
	ctx, span := s.tracer.Start(ctx, "settlement.Settle", trace.WithAttributes(
		attribute.String("booking.id", bookingID.String()),
		attribute.String("settlement.trigger", string(trigger)),
	))
	defer span.End()
	s.obsMetrics.RecordSettlementRequest(ctx, string(trigger))

	booking, err := s.bookingRepo.FindByID(ctx, s.db, bookingID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if booking == nil {
		return nil, bookingdomain.ErrBookingNotFound
	}

	txns, err := s.txnRepo.ListTransactions(ctx, s.db, booking.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	byKind := lo.KeyBy(txns, func(t ledgerdomain.Transaction) ledgerdomain.TransactionKind { return t.Kind })

	var plan []domain.Leg
	switch {
	case booking.Status.IsSettleable():
		plan, err = s.plan(ctx, booking, byKind)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	case booking.Status == bookingdomain.StatusDisputed:
		// a transfer already at the gateway is seen through while the dispute is open
		plan = inFlightLegs(txns)
		if len(plan) == 0 {
			return nil, domain.ErrNotEligible
		}
	default:
		return nil, domain.ErrNotEligible
	}

	result := &domain.Result{BookingID: booking.ID, Trigger: trigger}
	for _, leg := range plan {
		result.Legs = append(result.Legs, s.driveLeg(ctx, booking, leg, byKind, trigger))
	}
	if !booking.Status.IsSettleable() {
		joined := result.Err()
		if joined != nil {
			span.RecordError(joined)
		}
		return result, joined
	}

	settled, err := s.finalize(ctx, booking, plan)
	if err != nil {
		s.log.Warn("failed to finalize settlement",
			zap.String("booking_id", booking.ID.String()),
			zap.Error(err),
		)
	}
	result.Settled = settled

	joined := errors.Join(result.Err(), err)
	if joined != nil {
		span.RecordError(joined)
	}
	return result, joined
}

func (s *Service) plan(ctx context.Context, booking *bookingdomain.Booking, byKind map[ledgerdomain.TransactionKind]ledgerdomain.Transaction) ([]domain.Leg, error) {
	var paidAmount int64
	if payout, ok := byKind[ledgerdomain.KindProviderPayout]; ok && payout.Status == ledgerdomain.TransactionStatusCompleted {
		paidAmount = payout.Amount
	}

	var resolution *domain.Resolution
	if booking.Status.IsResolved() && s.resolutions != nil {
		var err error
		resolution, err = s.resolutions.ResolutionFor(ctx, s.db, booking.ID)
		if err != nil {
			return nil, err
		}
	}

	return domain.BuildPlan(domain.PlanInput{
		Booking:    *booking,
		Resolution: resolution,
		PaidAmount: paidAmount,
	})
}

func inFlightLegs(txns []ledgerdomain.Transaction) []domain.Leg {
	pending := lo.Filter(txns, func(t ledgerdomain.Transaction, _ int) bool {
		return t.Status == ledgerdomain.TransactionStatusPending &&
			(t.Kind.PaysProvider() || t.Kind == ledgerdomain.KindRefund)
	})
	return lo.Map(pending, func(t ledgerdomain.Transaction, _ int) domain.Leg {
		return domain.Leg{Kind: t.Kind, Amount: t.Amount}
	})
}

// driveLeg runs one leg to a committed outcome or leaves it PENDING for a retry.
func (s *Service) driveLeg(
	ctx context.Context,
	booking *bookingdomain.Booking,
	leg domain.Leg,
	byKind map[ledgerdomain.TransactionKind]ledgerdomain.Transaction,
	trigger domain.Trigger,
) domain.LegResult {
	ctx, span := s.tracer.Start(ctx, "settlement.leg", trace.WithAttributes(
		attribute.String("booking.id", booking.ID.String()),
		attribute.String("settlement.kind", string(leg.Kind)),
	))
	defer span.End()

	res := domain.LegResult{Kind: leg.Kind, Amount: leg.Amount}
	ctx = obscontext.WithBookingID(ctx, booking.ID.String())
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("kind", string(leg.Kind)),
		zap.String("trigger", string(trigger)),
	)

	if leg.Kind == ledgerdomain.KindProviderPayout && booking.IsPaidOut {
		return s.blocked(res, booking, domain.ErrAlreadyPaidOut)
	}

	existing, resumed := byKind[leg.Kind]
	if resumed {
		res.TransactionID = existing.ID
		res.Amount = existing.Amount
		switch existing.Status {
		case ledgerdomain.TransactionStatusCompleted:
			res.Status = domain.LegStatusSkipped
			res.ExternalRef = lo.FromPtr(existing.ExternalRef)
			if leg.Kind == ledgerdomain.KindProviderPayout {
				res.Err = domain.ErrAlreadyPaidOut
			}
			return res
		case ledgerdomain.TransactionStatusFailed:
			reason := lo.FromPtr(existing.FailureReason)
			res.Status = domain.LegStatusFailed
			res.Reason = reason
			res.Err = gatewaydomain.Rejected(s.gateway.Provider(), "", reason)
			return res
		case ledgerdomain.TransactionStatusCancelled:
			res.Status = domain.LegStatusSkipped
			return res
		}
	}

	var (
		dest       *kyc.Destination
		paymentRef string
		err        error
	)
	if leg.Kind.PaysProvider() {
		dest, err = s.payoutGuard(ctx, booking.ProviderRef)
	} else {
		paymentRef, err = refundGuard(byKind)
	}
	if err != nil {
		return s.blocked(res, booking, err)
	}

	now := s.clock.Now().UTC()
	// postgres keeps microseconds; the release matches on this exact value
	leaseUntil := now.Add(s.holder.Get().LeaseTTL).Truncate(time.Microsecond)

	var txn ledgerdomain.Transaction
	if resumed {
		claimed, err := s.txnRepo.ClaimLease(ctx, s.db, existing.ID, leaseUntil, now)
		if err != nil {
			res.Status = domain.LegStatusSkipped
			res.Err = err
			return res
		}
		if !claimed {
			log.Debug("leg lease held by another worker")
			res.Status = domain.LegStatusSkipped
			return res
		}
		txn = existing
		txn.LeaseUntil = &leaseUntil
		txn.Attempts++
	} else {
		txn = ledgerdomain.Transaction{
			ID:             s.genID.Generate(),
			BookingID:      booking.ID,
			Kind:           leg.Kind,
			Status:         ledgerdomain.TransactionStatusPending,
			Amount:         leg.Amount,
			Currency:       booking.Currency,
			IdempotencyKey: domain.IdempotencyKey(booking.ID, leg.Kind),
			LeaseUntil:     &leaseUntil,
			Attempts:       1,
			Metadata:       datatypes.JSONMap{"trigger": string(trigger)},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		inserted, err := s.txnRepo.ReserveTransaction(ctx, s.db, &txn)
		if err != nil {
			res.Status = domain.LegStatusSkipped
			res.Err = err
			return res
		}
		if !inserted {
			log.Debug("leg already reserved")
			res.Status = domain.LegStatusSkipped
			return res
		}
		s.writeAudit(ctx, "settlement.leg_reserved", txn, nil, map[string]any{
			"status":          string(txn.Status),
			"amount":          txn.Amount,
			"idempotency_key": txn.IdempotencyKey,
		})
	}
	res.TransactionID = txn.ID

	transfer, err := s.execute(ctx, booking, txn, dest, paymentRef, resumed)
	return s.conclude(ctx, log, booking, txn, transfer, err, res)
}

func (s *Service) payoutGuard(ctx context.Context, providerRef string) (*kyc.Destination, error) {
	verified, err := s.verifier.IsVerified(ctx, providerRef)
	if err != nil && !errors.Is(err, kyc.ErrProfileNotFound) {
		return nil, err
	}
	if !verified {
		return nil, domain.ErrRecipientNotVerified
	}
	dest, err := s.verifier.PayoutDestination(ctx, providerRef)
	if err != nil && !errors.Is(err, kyc.ErrProfileNotFound) {
		return nil, err
	}
	if !dest.Usable() {
		return nil, domain.ErrNoDestination
	}
	return dest, nil
}

func refundGuard(byKind map[ledgerdomain.TransactionKind]ledgerdomain.Transaction) (string, error) {
	payment, ok := byKind[ledgerdomain.KindOrganizerPayment]
	if !ok || payment.Status != ledgerdomain.TransactionStatusCompleted || lo.FromPtr(payment.ExternalRef) == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrNotEligible, domain.ErrPaymentNotCaptured)
	}
	return *payment.ExternalRef, nil
}

func (s *Service) blocked(res domain.LegResult, booking *bookingdomain.Booking, err error) domain.LegResult {
	res.Status = domain.LegStatusSkipped
	res.Err = err
	s.metrics.RecordLeg(string(res.Kind), metrics.LegOutcomeBlocked, booking.Currency, res.Amount)
	return res
}

// execute performs the gateway side of a leg. A resumed leg is verified
// first so a transfer whose acknowledgment was lost is never repeated.
func (s *Service) execute(
	ctx context.Context,
	booking *bookingdomain.Booking,
	txn ledgerdomain.Transaction,
	dest *kyc.Destination,
	paymentRef string,
	resumed bool,
) (*gatewaydomain.Transfer, error) {
	if txn.Kind == ledgerdomain.KindRefund {
		req := gatewaydomain.RefundRequest{
			Reference:  txn.IdempotencyKey,
			PaymentRef: paymentRef,
			Amount:     txn.Amount,
			Currency:   txn.Currency,
		}
		return s.drive(ctx, resumed,
			func(ctx context.Context) (*gatewaydomain.Transfer, error) { return s.gateway.InitiateRefund(ctx, req) },
			func(ctx context.Context) (*gatewaydomain.Transfer, error) { return s.gateway.VerifyRefund(ctx, req) },
		)
	}

	recipient, err := s.gateway.ResolveRecipient(ctx, gatewaydomain.RecipientDetails{
		RecipientRef:    dest.RecipientRef,
		AccountName:     dest.AccountName,
		AccountNumber:   dest.AccountNumber,
		BankCode:        dest.BankCode,
		Currency:        lo.Ternary(dest.Currency != "", dest.Currency, txn.Currency),
		RecipientCode:   dest.GatewayRecipientCode,
		StripeAccountID: dest.StripeAccountID,
	})
	if err != nil {
		return nil, err
	}
	if dest.GatewayRecipientCode == "" && recipient.Code != "" {
		if err := s.verifier.RememberRecipientCode(ctx, dest.RecipientRef, recipient.Code); err != nil {
			s.log.Warn("failed to cache recipient code",
				zap.String("recipient_ref", dest.RecipientRef),
				zap.Error(err),
			)
		}
	}

	payout := s.payoutRecord(booking, txn, ledgerdomain.PayoutStatusProcessing)
	payout.RecipientCode = optional(recipient.Code)
	if err := s.txnRepo.UpsertPayout(ctx, s.db, &payout); err != nil {
		return nil, err
	}

	req := gatewaydomain.TransferRequest{
		Reference:     txn.IdempotencyKey,
		RecipientCode: recipient.Code,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Reason:        fmt.Sprintf("booking %s %s", booking.ID.String(), strings.ToLower(string(txn.Kind))),
	}
	return s.drive(ctx, resumed,
		func(ctx context.Context) (*gatewaydomain.Transfer, error) { return s.gateway.InitiateTransfer(ctx, req) },
		func(ctx context.Context) (*gatewaydomain.Transfer, error) { return s.gateway.VerifyTransfer(ctx, req.Reference) },
	)
}

type gatewayCall func(ctx context.Context) (*gatewaydomain.Transfer, error)

func (s *Service) drive(ctx context.Context, resumed bool, initiate, verify gatewayCall) (*gatewaydomain.Transfer, error) {
	if resumed {
		found, err := verify(ctx)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, gatewaydomain.ErrTransferNotFound) {
			return nil, err
		}
	}
	if _, err := initiate(ctx); err != nil {
		return nil, err
	}
	verified, err := verify(ctx)
	if errors.Is(err, gatewaydomain.ErrTransferNotFound) {
		// acknowledged but not yet visible; verify again on the next run
		return nil, gatewaydomain.Unavailable(s.gateway.Provider(), err)
	}
	return verified, err
}

func (s *Service) conclude(
	ctx context.Context,
	log *zap.Logger,
	booking *bookingdomain.Booking,
	txn ledgerdomain.Transaction,
	transfer *gatewaydomain.Transfer,
	callErr error,
	res domain.LegResult,
) domain.LegResult {
	res.Amount = txn.Amount

	switch {
	case callErr == nil && transfer.Status == gatewaydomain.TransferStatusSuccess:
		committed, err := s.commitSuccess(ctx, booking, txn, transfer)
		if err != nil {
			log.Error("failed to commit completed leg", zap.Error(err))
			s.release(ctx, txn)
			res.Status = domain.LegStatusProcessing
			res.Err = err
			return res
		}
		res.Status = domain.LegStatusCompleted
		res.ExternalRef = transfer.ExternalRef
		if !committed {
			res.Status = domain.LegStatusSkipped
			return res
		}
		log.Info("settlement leg completed",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("external_ref", transfer.ExternalRef),
			zap.Int64("amount", txn.Amount),
		)
		s.announce(ctx, booking, txn, domain.LegStatusCompleted, "")
		return res

	case callErr == nil && transfer.Status == gatewaydomain.TransferStatusFailed:
		reason := lo.Ternary(transfer.FailureReason != "", transfer.FailureReason, "transfer_failed")
		return s.fail(ctx, log, booking, txn, reason, gatewaydomain.Rejected(s.gateway.Provider(), "", reason), res)

	case callErr == nil:
		log.Info("settlement leg awaiting gateway", zap.String("external_ref", transfer.ExternalRef))
		s.release(ctx, txn)
		res.Status = domain.LegStatusProcessing
		res.ExternalRef = transfer.ExternalRef
		s.announce(ctx, booking, txn, domain.LegStatusProcessing, "")
		return res

	case errors.Is(callErr, gatewaydomain.ErrRejected):
		reason, ok := gatewaydomain.RejectionReason(callErr)
		if !ok || reason == "" {
			reason = callErr.Error()
		}
		return s.fail(ctx, log, booking, txn, reason, callErr, res)

	default:
		log.Warn("settlement leg left pending", zap.Error(callErr))
		s.release(ctx, txn)
		res.Status = domain.LegStatusProcessing
		res.Err = callErr
		s.announce(ctx, booking, txn, domain.LegStatusProcessing, "")
		return res
	}
}

func (s *Service) fail(
	ctx context.Context,
	log *zap.Logger,
	booking *bookingdomain.Booking,
	txn ledgerdomain.Transaction,
	reason string,
	cause error,
	res domain.LegResult,
) domain.LegResult {
	committed, err := s.commitFailure(ctx, booking, txn, reason)
	if err != nil {
		log.Error("failed to commit failed leg", zap.Error(err))
		s.release(ctx, txn)
		res.Status = domain.LegStatusProcessing
		res.Err = err
		return res
	}
	res.Status = domain.LegStatusFailed
	res.Reason = reason
	res.Err = cause
	if committed {
		log.Warn("settlement leg failed", zap.String("reason", reason))
		s.announce(ctx, booking, txn, domain.LegStatusFailed, reason)
	}
	return res
}

// commitSuccess moves the leg to COMPLETED and journals it in one transaction.
func (s *Service) commitSuccess(ctx context.Context, booking *bookingdomain.Booking, txn ledgerdomain.Transaction, transfer *gatewaydomain.Transfer) (bool, error) {
	now := s.clock.Now().UTC()
	committed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.txnRepo.CompleteTransaction(ctx, tx, txn.ID, transfer.ExternalRef, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		committed = true

		if txn.Kind.PaysProvider() {
			payout := s.payoutRecord(booking, txn, ledgerdomain.PayoutStatusCompleted)
			payout.GatewayPayload = datatypes.JSONMap(transfer.Raw)
			if err := s.txnRepo.UpsertPayout(ctx, tx, &payout); err != nil {
				return err
			}
		}
		if txn.Kind == ledgerdomain.KindProviderPayout {
			if _, err := s.bookingRepo.MarkPaidOut(ctx, tx, booking.ID, now); err != nil {
				return err
			}
		}

		completed := txn
		completed.Status = ledgerdomain.TransactionStatusCompleted
		completed.ExternalRef = optional(transfer.ExternalRef)
		completed.CompletedAt = &now
		_, err = s.ledger.PostTransactionTx(ctx, tx, completed, now)
		return err
	})
	return committed, err
}

func (s *Service) commitFailure(ctx context.Context, booking *bookingdomain.Booking, txn ledgerdomain.Transaction, reason string) (bool, error) {
	now := s.clock.Now().UTC()
	committed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.txnRepo.FailTransaction(ctx, tx, txn.ID, reason, now)
		if err != nil || !ok {
			return err
		}
		committed = true
		if !txn.Kind.PaysProvider() {
			return nil
		}
		payout := s.payoutRecord(booking, txn, ledgerdomain.PayoutStatusFailed)
		payout.FailureReason = &reason
		return s.txnRepo.UpsertPayout(ctx, tx, &payout)
	})
	return committed, err
}

func (s *Service) release(ctx context.Context, txn ledgerdomain.Transaction) {
	if txn.LeaseUntil == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.txnRepo.ReleaseLease(ctx, s.db, txn.ID, *txn.LeaseUntil, s.clock.Now().UTC()); err != nil {
		s.log.Warn("failed to release leg lease",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) payoutRecord(booking *bookingdomain.Booking, txn ledgerdomain.Transaction, status ledgerdomain.PayoutStatus) ledgerdomain.Payout {
	now := s.clock.Now().UTC()
	return ledgerdomain.Payout{
		ID:                s.genID.Generate(),
		TransactionID:     txn.ID,
		BookingID:         booking.ID,
		RecipientRef:      booking.ProviderRef,
		Amount:            txn.Amount,
		Currency:          txn.Currency,
		Status:            status,
		GatewayProvider:   s.gateway.Provider(),
		TransferReference: txn.IdempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// finalize stamps settled_at once every leg of the plan is COMPLETED. The
// fee is whatever escrow still holds after payouts and refunds. It is
// recorded the first time a booking settles, and a refund that lands after
// that hands the excess back with a reversal.
func (s *Service) finalize(ctx context.Context, booking *bookingdomain.Booking, plan []domain.Leg) (bool, error) {
	txns, err := s.txnRepo.ListTransactions(ctx, s.db, booking.ID)
	if err != nil {
		return false, err
	}
	byKind := lo.KeyBy(txns, func(t ledgerdomain.Transaction) ledgerdomain.TransactionKind { return t.Kind })
	for _, leg := range plan {
		txn, ok := byKind[leg.Kind]
		if !ok || txn.Status != ledgerdomain.TransactionStatusCompleted {
			return false, nil
		}
	}

	completed := func(kinds ...ledgerdomain.TransactionKind) int64 {
		return lo.SumBy(txns, func(t ledgerdomain.Transaction) int64 {
			if t.Status != ledgerdomain.TransactionStatusCompleted || !lo.Contains(kinds, t.Kind) {
				return 0
			}
			return t.Amount
		})
	}
	retained := booking.GrossAmount - completed(ledgerdomain.KindProviderPayout, ledgerdomain.KindRefund)
	recorded := completed(ledgerdomain.KindPlatformFee) - completed(ledgerdomain.KindPlatformFeeReversal)

	var kind ledgerdomain.TransactionKind
	var amount int64
	_, hasFee := byKind[ledgerdomain.KindPlatformFee]
	_, hasReversal := byKind[ledgerdomain.KindPlatformFeeReversal]
	switch {
	case !hasFee && retained > 0:
		kind, amount = ledgerdomain.KindPlatformFee, retained
	case hasFee && !hasReversal && retained < recorded:
		kind, amount = ledgerdomain.KindPlatformFeeReversal, recorded-retained
	}
	// adjustments are paid out of revenue, so they lower the fee the booking keeps
	recognised := retained - completed(ledgerdomain.KindProviderAdjustment)

	now := s.clock.Now().UTC()
	var (
		stamped bool
		feeTxn  *ledgerdomain.Transaction
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if amount > 0 {
			candidate := ledgerdomain.Transaction{
				ID:             s.genID.Generate(),
				BookingID:      booking.ID,
				Kind:           kind,
				Status:         ledgerdomain.TransactionStatusCompleted,
				Amount:         amount,
				Currency:       booking.Currency,
				IdempotencyKey: domain.IdempotencyKey(booking.ID, kind),
				CreatedAt:      now,
				UpdatedAt:      now,
				CompletedAt:    &now,
			}
			inserted, err := s.txnRepo.ReserveTransaction(ctx, tx, &candidate)
			if err != nil {
				return err
			}
			if inserted {
				if _, err := s.ledger.PostTransactionTx(ctx, tx, candidate, now); err != nil {
					return err
				}
				feeTxn = &candidate
			}
		}
		if recognised >= 0 && recognised != booking.PlatformFee {
			if err := s.bookingRepo.RecordFee(ctx, tx, booking.ID, recognised, now); err != nil {
				return err
			}
		}
		ok, err := s.bookingRepo.MarkSettled(ctx, tx, booking.ID, now)
		stamped = ok
		return err
	})
	if err != nil {
		return false, err
	}

	if feeTxn != nil {
		s.metrics.RecordLeg(string(feeTxn.Kind), metrics.LegOutcomeCompleted, feeTxn.Currency, feeTxn.Amount)
		action := "settlement.fee_recorded"
		if feeTxn.Kind == ledgerdomain.KindPlatformFeeReversal {
			action = "settlement.fee_reversed"
		}
		s.writeAudit(ctx, action, *feeTxn, nil, map[string]any{
			"amount":     feeTxn.Amount,
			"recognised": recognised,
		})
	}
	if stamped {
		s.log.Info("booking settled",
			zap.String("booking_id", booking.ID.String()),
			zap.String("status", string(booking.Status)),
		)
		s.writeBookingAudit(ctx, booking.ID, "booking.settled", map[string]any{
			"status":     string(booking.Status),
			"settled_at": now,
		})
	}
	return true, nil
}

// announce records metrics, audit and the recipient notification of a leg outcome.
func (s *Service) announce(ctx context.Context, booking *bookingdomain.Booking, txn ledgerdomain.Transaction, status domain.LegStatus, reason string) {
	outcome := map[domain.LegStatus]string{
		domain.LegStatusCompleted:  metrics.LegOutcomeCompleted,
		domain.LegStatusProcessing: metrics.LegOutcomeProcessing,
		domain.LegStatusFailed:     metrics.LegOutcomeFailed,
	}[status]
	s.metrics.RecordLeg(string(txn.Kind), outcome, txn.Currency, txn.Amount)

	if status != domain.LegStatusProcessing {
		after := map[string]any{"status": strings.ToUpper(string(status))}
		if reason != "" {
			after["failure_reason"] = reason
		}
		s.writeAudit(ctx, "settlement.leg_"+string(status), txn,
			map[string]any{"status": string(ledgerdomain.TransactionStatusPending)}, after)
	}

	// a leg still at the gateway is announced to the recipient once
	if status == domain.LegStatusProcessing && txn.Attempts > 1 {
		return
	}

	recipient := booking.OrganizerRef
	kinds := map[domain.LegStatus]notification.Kind{
		domain.LegStatusCompleted:  notification.KindRefundCompleted,
		domain.LegStatusProcessing: notification.KindRefundProcessing,
		domain.LegStatusFailed:     notification.KindRefundFailed,
	}
	if txn.Kind.PaysProvider() {
		recipient = booking.ProviderRef
		kinds = map[domain.LegStatus]notification.Kind{
			domain.LegStatusCompleted:  notification.KindPayoutCompleted,
			domain.LegStatusProcessing: notification.KindPayoutProcessing,
			domain.LegStatusFailed:     notification.KindPayoutFailed,
		}
	}
	payload := map[string]any{
		"booking_id":     booking.ID.String(),
		"transaction_id": txn.ID.String(),
		"kind":           string(txn.Kind),
		"amount":         txn.Amount,
		"currency":       txn.Currency,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if err := s.notifier.Emit(ctx, recipient, kinds[status], payload); err != nil {
		s.log.Warn("failed to emit notification",
			zap.String("booking_id", booking.ID.String()),
			zap.String("kind", string(kinds[status])),
			zap.Error(err),
		)
	}
}

func (s *Service) writeAudit(ctx context.Context, action string, txn ledgerdomain.Transaction, before, after map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actor := identity.System("settlement")
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeSystem,
		ActorRef:   actor.Ref,
		ActorRole:  string(actor.Role),
		Action:     action,
		TargetType: "booking_transaction",
		TargetID:   txn.ID.String(),
		Before:     before,
		After:      after,
		Metadata: map[string]any{
			"booking_id": txn.BookingID.String(),
			"kind":       string(txn.Kind),
		},
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) writeBookingAudit(ctx context.Context, bookingID snowflake.ID, action string, after map[string]any) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeSystem,
		ActorRef:   "settlement",
		ActorRole:  string(identity.RoleSystem),
		Action:     action,
		TargetType: "booking",
		TargetID:   bookingID.String(),
		After:      after,
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
