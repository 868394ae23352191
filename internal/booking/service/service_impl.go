package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	"github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/clock"
	"github.com/smallbiznis/gigpay/internal/fee"
	"github.com/smallbiznis/gigpay/internal/identity"
	"github.com/smallbiznis/gigpay/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTransitionAttempts = 3

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Clock    clock.Clock
	AuditSvc auditdomain.Service        `optional:"true"`
	Trigger  domain.SettlementTrigger   `optional:"true"`
	Metrics  *metrics.SettlementMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	auditSvc auditdomain.Service
	trigger  domain.SettlementTrigger
	metrics  *metrics.SettlementMetrics
	tracer   trace.Tracer
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("booking.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    clk,
		auditSvc: p.AuditSvc,
		trigger:  p.Trigger,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("gigpay/booking"),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Booking, error) {
	if !req.Actor.Valid() {
		return nil, domain.ErrInvalidActor
	}
	if req.GrossAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}
	organizerRef := strings.TrimSpace(req.OrganizerRef)
	if organizerRef == "" {
		return nil, domain.ErrInvalidOrganizer
	}
	providerRef := strings.TrimSpace(req.ProviderRef)
	if providerRef == "" || providerRef == organizerRef {
		return nil, domain.ErrInvalidProvider
	}
	switch req.Actor.Role {
	case identity.RoleAdmin:
	case identity.RoleOrganizer:
		if req.Actor.Ref != organizerRef {
			return nil, domain.ErrForbidden
		}
	default:
		return nil, domain.ErrForbidden
	}

	now := s.clock.Now().UTC()
	split := fee.Split(req.GrossAmount, fee.ModeStandard)
	booking := domain.Booking{
		ID:              s.genID.Generate(),
		Status:          domain.StatusPending,
		GrossAmount:     req.GrossAmount,
		PlatformFee:     split.Fee,
		RecipientAmount: split.Recipient,
		Currency:        currency,
		OrganizerRef:    organizerRef,
		ProviderRef:     providerRef,
		EventRef:        strings.TrimSpace(req.EventRef),
		Notes:           strings.TrimSpace(req.Notes),
		ProposedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, s.db, &booking); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, req.Actor, "booking.created", booking.ID, nil, map[string]any{
		"status":           string(booking.Status),
		"gross_amount":     booking.GrossAmount,
		"currency":         booking.Currency,
		"organizer_ref":    booking.OrganizerRef,
		"provider_ref":     booking.ProviderRef,
		"recipient_amount": booking.RecipientAmount,
	}, nil)

	return &booking, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Booking, error) {
	if id == 0 {
		return nil, domain.ErrBookingNotFound
	}
	booking, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

func (s *Service) RequestTransition(ctx context.Context, req domain.TransitionRequest) (*domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.RequestTransition", trace.WithAttributes(
		attribute.String("booking.id", req.BookingID.String()),
		attribute.String("booking.action", string(req.Action)),
	))
	defer span.End()

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		var (
			updated *domain.Booking
			events  []domain.Event
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			updated, events, txErr = s.TransitionTx(ctx, tx, req)
			return txErr
		})
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			s.log.Debug("version conflict, retrying transition",
				zap.String("booking_id", req.BookingID.String()),
				zap.String("action", string(req.Action)),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		s.Publish(ctx, events)
		return updated, nil
	}

	span.RecordError(domain.ErrConcurrentUpdate)
	return nil, domain.ErrConcurrentUpdate
}

func (s *Service) TransitionTx(ctx context.Context, tx *gorm.DB, req domain.TransitionRequest) (*domain.Booking, []domain.Event, error) {
	if !req.Actor.Valid() {
		return nil, nil, domain.ErrInvalidActor
	}
	if !validAction(req.Action) {
		return nil, nil, domain.ErrInvalidAction
	}

	current, err := s.repo.FindByID(ctx, tx, req.BookingID)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, domain.ErrBookingNotFound
	}

	next, events, err := domain.Apply(*current, req.Action, req.Actor, s.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		next.Notes = notes
	}

	ok, err := s.repo.UpdateState(ctx, tx, &next, current.Version)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, domain.ErrConcurrentUpdate
	}
	return &next, events, nil
}

// Publish records committed transitions and forwards settlement requests.
// Failures are logged and never undo the transition.
func (s *Service) Publish(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		switch ev.Type {
		case domain.EventBookingTransitioned:
			s.metrics.RecordTransition(string(ev.From), string(ev.To))
			s.writeAudit(ctx, ev.Actor, "booking.transitioned", ev.BookingID,
				map[string]any{"status": string(ev.From)},
				map[string]any{"status": string(ev.To)},
				map[string]any{"action": string(ev.Action)},
			)
		case domain.EventSettlementRequested:
			if s.trigger == nil {
				continue
			}
			if err := s.trigger.RequestSettlement(ctx, ev); err != nil {
				s.log.Warn("failed to request settlement",
					zap.String("booking_id", ev.BookingID.String()),
					zap.String("status", string(ev.To)),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *Service) writeAudit(ctx context.Context, actor identity.Actor, action string, bookingID snowflake.ID, before, after, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType := auditdomain.ActorTypeUser
	if actor.Role == identity.RoleSystem {
		actorType = auditdomain.ActorTypeSystem
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  actorType,
		ActorRef:   actor.Ref,
		ActorRole:  string(actor.Role),
		Action:     action,
		TargetType: "booking",
		TargetID:   bookingID.String(),
		Before:     before,
		After:      after,
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func validAction(action domain.Action) bool {
	for _, a := range domain.AllActions {
		if a == action {
			return true
		}
	}
	return false
}
