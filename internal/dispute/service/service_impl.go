package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/dispute/domain"
	"github.com/smallbiznis/gigpay/internal/fee"
	"github.com/smallbiznis/gigpay/internal/identity"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	"github.com/smallbiznis/gigpay/internal/notification"
	obsmetrics "github.com/smallbiznis/gigpay/internal/observability/metrics"
	settlementdomain "github.com/smallbiznis/gigpay/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxFileAttempts = 3

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	BookingRepo bookingdomain.Repository
	BookingSvc  bookingdomain.Service
	TxnRepo     ledgerdomain.Repository
	Settlement  settlementdomain.Service
	Notifier    notification.Notifier `optional:"true"`
	AuditSvc    auditdomain.Service   `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	bookingRepo bookingdomain.Repository
	bookingSvc  bookingdomain.Service
	txnRepo     ledgerdomain.Repository
	settlement  settlementdomain.Service
	notifier    notification.Notifier
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
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
		log:         p.Log.Named("dispute.service"),
		genID:       p.GenID,
		clock:       clk,
		repo:        p.Repo,
		bookingRepo: p.BookingRepo,
		bookingSvc:  p.BookingSvc,
		txnRepo:     p.TxnRepo,
		settlement:  p.Settlement,
		notifier:    notifier,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Dispute, error) {
	if id == 0 {
		return nil, domain.ErrDisputeNotFound
	}
	d, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, domain.ErrDisputeNotFound
	}
	return d, nil
}

func (s *Service) ListByBooking(ctx context.Context, bookingID snowflake.ID) ([]domain.Dispute, error) {
	return s.repo.ListByBooking(ctx, s.db, bookingID)
}

// FileDispute opens a dispute on a completed booking and moves the booking
// to DISPUTED in the same transaction.
func (s *Service) FileDispute(ctx context.Context, req domain.FileRequest) (*domain.Dispute, error) {
	if !req.RaisedBy.Valid() {
		return nil, bookingdomain.ErrInvalidActor
	}
	if !req.Reason.Valid() {
		return nil, domain.ErrInvalidReason
	}

	for attempt := 1; attempt <= maxFileAttempts; attempt++ {
		var (
			dispute domain.Dispute
			booking *bookingdomain.Booking
			events  []bookingdomain.Event
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			open, err := s.repo.FindOpenByBooking(ctx, tx, req.BookingID)
			if err != nil {
				return err
			}
			if open != nil {
				return domain.ErrDisputeAlreadyOpen
			}

			booking, events, err = s.bookingSvc.TransitionTx(ctx, tx, bookingdomain.TransitionRequest{
				BookingID: req.BookingID,
				Action:    bookingdomain.ActionDispute,
				Actor:     req.RaisedBy,
			})
			if err != nil {
				return err
			}

			now := s.clock.Now().UTC()
			dispute = domain.Dispute{
				ID:          s.genID.Generate(),
				BookingID:   booking.ID,
				Status:      domain.StatusOpen,
				Reason:      req.Reason,
				Explanation: strings.TrimSpace(req.Explanation),
				FiledByRef:  req.RaisedBy.Ref,
				FiledByRole: string(req.RaisedBy.Role),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			return s.repo.Insert(ctx, tx, &dispute)
		})
		if errors.Is(err, bookingdomain.ErrConcurrentUpdate) {
			s.log.Debug("version conflict, retrying dispute filing",
				zap.String("booking_id", req.BookingID.String()),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.bookingSvc.Publish(ctx, events)
		s.obsMetrics.RecordDispute(ctx, "filed", string(dispute.Reason))
		s.writeAudit(ctx, req.RaisedBy, "dispute.filed", dispute, nil, map[string]any{
			"status": string(dispute.Status),
			"reason": string(dispute.Reason),
		})
		s.notifyCounterparty(ctx, *booking, req.RaisedBy, dispute)

		s.log.Info("dispute filed",
			zap.String("dispute_id", dispute.ID.String()),
			zap.String("booking_id", dispute.BookingID.String()),
			zap.String("reason", string(dispute.Reason)),
		)
		return &dispute, nil
	}
	return nil, bookingdomain.ErrConcurrentUpdate
}

func (s *Service) MarkUnderReview(ctx context.Context, disputeID snowflake.ID, actor identity.Actor) (*domain.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, bookingdomain.ErrForbidden
	}

	var updated *domain.Dispute
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrDisputeNotFound
		}
		switch current.Status {
		case domain.StatusUnderReview:
			updated = current
			return nil
		case domain.StatusOpen:
		default:
			return domain.ErrDisputeClosed
		}

		now := s.clock.Now().UTC()
		ok, err := s.repo.MarkUnderReview(ctx, tx, current.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrDisputeClosed
		}
		current.Status = domain.StatusUnderReview
		current.ReviewedAt = &now
		current.UpdatedAt = now
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordDispute(ctx, "under_review", "")
	s.writeAudit(ctx, actor, "dispute.under_review", *updated,
		map[string]any{"status": string(domain.StatusOpen)},
		map[string]any{"status": string(updated.Status)},
	)
	return updated, nil
}

// Resolve closes an open dispute with an admin decision and settles the
// booking straight away. The settlement result rides along with the
// resolution; a leg that could not move yet is left to the sweep.
func (s *Service) Resolve(ctx context.Context, req domain.ResolveRequest) (*domain.ResolveResult, error) {
	if !req.Resolver.IsAdmin() || !req.Resolver.Valid() {
		return nil, bookingdomain.ErrForbidden
	}
	if !req.Outcome.Valid() {
		return nil, domain.ErrInvalidOutcome
	}

	current, err := s.Get(ctx, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if !current.Status.IsOpen() {
		return nil, domain.ErrDisputeClosed
	}
	booking, err := s.bookingRepo.FindByID(ctx, s.db, current.BookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, bookingdomain.ErrBookingNotFound
	}

	award, err := awardedSplit(booking.GrossAmount, req)
	if err != nil {
		return nil, err
	}
	if err := s.checkPayoutState(ctx, *booking, req.Outcome, award); err != nil {
		return nil, err
	}

	action, _ := bookingdomain.ResolutionAction(req.Outcome.BookingStatus())
	var (
		resolved domain.Dispute
		updated  *bookingdomain.Booking
		events   []bookingdomain.Event
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrDisputeNotFound
		}
		if !locked.Status.IsOpen() {
			return domain.ErrDisputeClosed
		}

		now := s.clock.Now().UTC()
		outcome := req.Outcome
		resolved = *locked
		resolved.Status = outcome.Status()
		resolved.Outcome = &outcome
		resolved.RefundAmount = award.refund
		resolved.PayoutAmount = award.payout
		resolved.DisputeFee = award.fee
		resolved.ResolutionNotes = optional(req.Notes)
		resolved.ResolvedByRef = optional(req.Resolver.Ref)
		resolved.ResolvedAt = &now
		resolved.UpdatedAt = now

		ok, err := s.repo.Resolve(ctx, tx, &resolved)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrDisputeClosed
		}

		updated, events, err = s.bookingSvc.TransitionTx(ctx, tx, bookingdomain.TransitionRequest{
			BookingID: resolved.BookingID,
			Action:    action,
			Notes:     req.Notes,
			Actor:     req.Resolver,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// settlement runs inline below, so only the transition record is published
	s.bookingSvc.Publish(ctx, lo.Filter(events, func(ev bookingdomain.Event, _ int) bool {
		return ev.Type != bookingdomain.EventSettlementRequested
	}))
	s.obsMetrics.RecordDispute(ctx, "resolved", string(req.Outcome))
	s.writeAudit(ctx, req.Resolver, "dispute.resolved", resolved,
		map[string]any{"status": string(current.Status)},
		map[string]any{
			"status":        string(resolved.Status),
			"outcome":       string(req.Outcome),
			"refund_amount": resolved.RefundAmount,
			"payout_amount": resolved.PayoutAmount,
			"dispute_fee":   resolved.DisputeFee,
		},
	)
	s.notifyParties(ctx, *updated, resolved)

	result := &domain.ResolveResult{Dispute: resolved, Booking: *updated}
	settled, err := s.settlement.Settle(ctx, resolved.BookingID, settlementdomain.TriggerDispute)
	result.Settlement = settled
	if err != nil {
		result.SettlementError = err.Error()
		s.log.Warn("settlement after resolution incomplete",
			zap.String("dispute_id", resolved.ID.String()),
			zap.String("booking_id", resolved.BookingID.String()),
			zap.Error(err),
		)
	}
	if settled != nil && settled.Settled {
		if fresh, ferr := s.bookingRepo.FindByID(ctx, s.db, resolved.BookingID); ferr == nil && fresh != nil {
			result.Booking = *fresh
		}
	}

	s.log.Info("dispute resolved",
		zap.String("dispute_id", resolved.ID.String()),
		zap.String("booking_id", resolved.BookingID.String()),
		zap.String("outcome", string(req.Outcome)),
		zap.Int64("refund_amount", resolved.RefundAmount),
		zap.Int64("payout_amount", resolved.PayoutAmount),
	)
	return result, nil
}

type split struct {
	refund int64
	payout int64
	fee    int64
}

// awardedSplit derives the refund and payout of an outcome. The dispute fee
// is always retained; the awarded amounts may never exceed what remains.
func awardedSplit(gross int64, req domain.ResolveRequest) (split, error) {
	resolvedFee := fee.Split(gross, fee.ModeDisputeResolved)
	out := split{fee: resolvedFee.Fee}

	switch req.Outcome {
	case domain.OutcomeOrganizerFavor:
		out.refund = resolvedFee.Recipient
		if req.RefundAmount != nil {
			out.refund = *req.RefundAmount
		}
	case domain.OutcomeProviderFavor:
		out.payout = resolvedFee.Recipient
	case domain.OutcomePartial:
		if req.RefundAmount == nil || req.PayoutAmount == nil {
			return split{}, domain.ErrInvalidSplit
		}
		out.refund = *req.RefundAmount
		out.payout = *req.PayoutAmount
	}

	if out.refund < 0 || out.payout < 0 || out.refund+out.payout+out.fee > gross {
		return split{}, domain.ErrInvalidSplit
	}
	return out, nil
}

// checkPayoutState refuses outcomes the provider payout already contradicts.
func (s *Service) checkPayoutState(ctx context.Context, booking bookingdomain.Booking, outcome domain.Outcome, sp split) error {
	payout, err := s.txnRepo.FindTransaction(ctx, s.db, booking.ID, ledgerdomain.KindProviderPayout)
	if err != nil {
		return err
	}
	var paid int64
	if payout != nil {
		switch payout.Status {
		case ledgerdomain.TransactionStatusPending:
			return settlementdomain.ErrPayoutInFlight
		case ledgerdomain.TransactionStatusCompleted:
			paid = payout.Amount
		}
	}

	probe := booking
	probe.Status = outcome.BookingStatus()
	resolvedFee := fee.Split(booking.GrossAmount, fee.ModeDisputeResolved)
	probe.PlatformFee = resolvedFee.Fee
	probe.RecipientAmount = resolvedFee.Recipient
	_, err = settlementdomain.BuildPlan(settlementdomain.PlanInput{
		Booking: probe,
		Resolution: &settlementdomain.Resolution{
			RefundAmount: sp.refund,
			PayoutAmount: sp.payout,
		},
		PaidAmount: paid,
	})
	return err
}

func (s *Service) notifyCounterparty(ctx context.Context, booking bookingdomain.Booking, raisedBy identity.Actor, d domain.Dispute) {
	recipient := booking.ProviderRef
	if raisedBy.Role == identity.RoleProvider {
		recipient = booking.OrganizerRef
	}
	s.emit(ctx, recipient, notification.KindDisputeOpened, map[string]any{
		"dispute_id": d.ID.String(),
		"booking_id": d.BookingID.String(),
		"reason":     string(d.Reason),
	})
}

func (s *Service) notifyParties(ctx context.Context, booking bookingdomain.Booking, d domain.Dispute) {
	payload := map[string]any{
		"dispute_id":    d.ID.String(),
		"booking_id":    d.BookingID.String(),
		"outcome":       string(lo.FromPtr(d.Outcome)),
		"refund_amount": d.RefundAmount,
		"payout_amount": d.PayoutAmount,
	}
	s.emit(ctx, booking.OrganizerRef, notification.KindDisputeResolved, payload)
	s.emit(ctx, booking.ProviderRef, notification.KindDisputeResolved, payload)
}

func (s *Service) emit(ctx context.Context, recipient string, kind notification.Kind, payload map[string]any) {
	if err := s.notifier.Emit(ctx, recipient, kind, payload); err != nil {
		s.log.Warn("failed to emit notification", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (s *Service) writeAudit(ctx context.Context, actor identity.Actor, action string, d domain.Dispute, before, after map[string]any) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeUser,
		ActorRef:   actor.Ref,
		ActorRole:  string(actor.Role),
		Action:     action,
		TargetType: "dispute",
		TargetID:   d.ID.String(),
		Before:     before,
		After:      after,
		Metadata:   map[string]any{"booking_id": d.BookingID.String()},
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
