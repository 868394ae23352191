package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/gigpay/internal/identity"
)

const (
	ObjectBooking    = "booking"
	ObjectDispute    = "dispute"
	ObjectSettlement = "settlement"
	ObjectAuditLog   = "audit_log"
)

const (
	ActionBookingCreate     = "create"
	ActionBookingView       = "view"
	ActionBookingTransition = "transition"

	ActionDisputeFile    = "file"
	ActionDisputeView    = "view"
	ActionDisputeReview  = "review"
	ActionDisputeResolve = "resolve"

	ActionSettlementRetry = "retry"
	ActionSettlementSweep = "sweep"

	ActionAuditLogView = "view"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// Service decides whether an actor's role grants an action on an object.
// Ownership of a specific booking is checked by the domain services.
type Service interface {
	Authorize(ctx context.Context, actor identity.Actor, object string, action string) error
}
