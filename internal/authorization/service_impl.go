package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/gigpay/internal/audit/domain"
	"github.com/smallbiznis/gigpay/internal/identity"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies stored in casbin_rule and seeds the defaults.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor identity.Actor, object string, action string) error {
	if !actor.Valid() {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := subjectFor(actor)
	if err := s.ensureGrouping(subject, roleName(actor.Role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDecision(ctx, actor, "authorization.denied", object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(object, action) {
		s.auditDecision(ctx, actor, "authorization.granted", object, action)
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject, so a caller whose
// token changes role does not keep the old grants.
func (s *ServiceImpl) ensureGrouping(subject string, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func (s *ServiceImpl) auditDecision(ctx context.Context, actor identity.Actor, event string, object string, action string) {
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
		Action:     event,
		TargetType: "authorization",
		TargetID:   object + ":" + action,
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": subjectFor(actor),
		},
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", event), zap.Error(err))
	}
}

func subjectFor(actor identity.Actor) string {
	return fmt.Sprintf("%s:%s", actor.Role, strings.TrimSpace(actor.Ref))
}

func roleName(role identity.Role) string {
	return "role:" + string(role)
}

func shouldAuditGrant(object string, action string) bool {
	switch object + ":" + action {
	case ObjectDispute + ":" + ActionDisputeResolve,
		ObjectSettlement + ":" + ActionSettlementRetry:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	organizer := roleName(identity.RoleOrganizer)
	provider := roleName(identity.RoleProvider)
	admin := roleName(identity.RoleAdmin)
	system := roleName(identity.RoleSystem)

	policies := [][]string{
		{organizer, ObjectBooking, ActionBookingCreate},
		{organizer, ObjectBooking, ActionBookingView},
		{organizer, ObjectBooking, ActionBookingTransition},
		{organizer, ObjectDispute, ActionDisputeFile},
		{organizer, ObjectDispute, ActionDisputeView},

		{provider, ObjectBooking, ActionBookingView},
		{provider, ObjectBooking, ActionBookingTransition},
		{provider, ObjectDispute, ActionDisputeFile},
		{provider, ObjectDispute, ActionDisputeView},

		{admin, ObjectBooking, ActionBookingCreate},
		{admin, ObjectBooking, ActionBookingView},
		{admin, ObjectBooking, ActionBookingTransition},
		{admin, ObjectDispute, ActionDisputeFile},
		{admin, ObjectDispute, ActionDisputeView},
		{admin, ObjectDispute, ActionDisputeReview},
		{admin, ObjectDispute, ActionDisputeResolve},
		{admin, ObjectSettlement, ActionSettlementRetry},
		{admin, ObjectSettlement, ActionSettlementSweep},
		{admin, ObjectAuditLog, ActionAuditLogView},

		// background workers and the operator CLI
		{system, ObjectSettlement, ActionSettlementRetry},
		{system, ObjectSettlement, ActionSettlementSweep},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
