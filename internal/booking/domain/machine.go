package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/fee"
	"github.com/smallbiznis/gigpay/internal/identity"
)

type transitionKey struct {
	from   Status
	action Action
}

var transitions = map[transitionKey]Status{
	{StatusPending, ActionAccept}:            StatusAccepted,
	{StatusPending, ActionDecline}:           StatusDeclined,
	{StatusAccepted, ActionStart}:            StatusInProgress,
	{StatusAccepted, ActionCancel}:           StatusCancelled,
	{StatusAccepted, ActionComplete}:         StatusCompleted,
	{StatusInProgress, ActionComplete}:       StatusCompleted,
	{StatusInProgress, ActionCancel}:         StatusCancelled,
	{StatusCompleted, ActionDispute}:         StatusDisputed,
	{StatusDisputed, ActionResolveOrganizer}: StatusResolvedOrganizer,
	{StatusDisputed, ActionResolveProvider}:  StatusResolvedProvider,
	{StatusDisputed, ActionResolvePartial}:   StatusResolvedPartial,
}

var permissions = map[Action][]identity.Role{
	ActionAccept:           {identity.RoleProvider, identity.RoleAdmin},
	ActionDecline:          {identity.RoleProvider, identity.RoleAdmin},
	ActionStart:            {identity.RoleProvider, identity.RoleAdmin},
	ActionCancel:           {identity.RoleOrganizer, identity.RoleProvider, identity.RoleAdmin},
	ActionComplete:         {identity.RoleOrganizer, identity.RoleProvider, identity.RoleAdmin},
	ActionDispute:          {identity.RoleOrganizer, identity.RoleProvider, identity.RoleAdmin},
	ActionResolveOrganizer: {identity.RoleAdmin},
	ActionResolveProvider:  {identity.RoleAdmin},
	ActionResolvePartial:   {identity.RoleAdmin},
}

// Target returns the status reached by applying action in from, if the pair is legal.
func Target(from Status, action Action) (Status, bool) {
	to, ok := transitions[transitionKey{from: from, action: action}]
	return to, ok
}

// Allowed reports whether role may request action at all.
func Allowed(action Action, role identity.Role) bool {
	for _, r := range permissions[action] {
		if r == role {
			return true
		}
	}
	return false
}

// ResolutionAction maps a resolved status to the action that reaches it.
func ResolutionAction(to Status) (Action, bool) {
	switch to {
	case StatusResolvedOrganizer:
		return ActionResolveOrganizer, true
	case StatusResolvedProvider:
		return ActionResolveProvider, true
	case StatusResolvedPartial:
		return ActionResolvePartial, true
	default:
		return "", false
	}
}

// Apply validates and applies action to b. It never mutates b and returns the
// updated copy together with the events the change produced.
func Apply(b Booking, action Action, actor identity.Actor, now time.Time) (Booking, []Event, error) {
	if b.Status.IsTerminal() {
		return b, nil, ErrAlreadyTerminal
	}
	to, ok := Target(b.Status, action)
	if !ok {
		return b, nil, ErrInvalidTransition
	}
	if !Allowed(action, actor.Role) || !isParty(b, actor) {
		return b, nil, ErrForbidden
	}

	now = now.UTC()
	from := b.Status
	next := b
	next.Status = to
	next.UpdatedAt = now

	switch to {
	case StatusAccepted:
		next.AcceptedAt = &now
	case StatusDeclined:
		next.DeclinedAt = &now
	case StatusInProgress:
		next.StartedAt = &now
	case StatusCancelled:
		next.CancelledAt = &now
	case StatusCompleted:
		next.CompletedAt = &now
		split := fee.Split(next.GrossAmount, fee.ModeStandard)
		next.PlatformFee = split.Fee
		next.RecipientAmount = split.Recipient
	case StatusDisputed:
		next.DisputedAt = &now
	case StatusResolvedOrganizer, StatusResolvedProvider, StatusResolvedPartial:
		next.ResolvedAt = &now
		// resolution legs settle anew, even after a standard payout
		next.SettledAt = nil
		split := fee.Split(next.GrossAmount, fee.ModeDisputeResolved)
		next.PlatformFee = split.Fee
		next.RecipientAmount = split.Recipient
	}

	events := []Event{{
		Type:       EventBookingTransitioned,
		BookingID:  next.ID,
		From:       from,
		To:         to,
		Action:     action,
		Actor:      actor,
		OccurredAt: now,
	}}
	if to.IsSettleable() {
		events = append(events, Event{
			Type:       EventSettlementRequested,
			BookingID:  next.ID,
			From:       from,
			To:         to,
			Action:     action,
			Actor:      actor,
			OccurredAt: now,
		})
	}
	return next, events, nil
}

// isParty checks that a non-admin actor is the organizer or provider of b.
func isParty(b Booking, actor identity.Actor) bool {
	switch actor.Role {
	case identity.RoleAdmin:
		return true
	case identity.RoleOrganizer:
		return actor.Ref != "" && actor.Ref == b.OrganizerRef
	case identity.RoleProvider:
		return actor.Ref != "" && actor.Ref == b.ProviderRef
	default:
		return false
	}
}

// IsParty reports whether actor may see b: its organizer, its provider or an admin.
func (b Booking) IsParty(actor identity.Actor) bool {
	return isParty(b, actor)
}

type EventType string

const (
	EventBookingTransitioned EventType = "booking.transitioned"
	EventSettlementRequested EventType = "settlement.requested"
)

// Event is emitted by Apply and published after the transition commits.
type Event struct {
	Type       EventType      `json:"type"`
	BookingID  snowflake.ID   `json:"booking_id"`
	From       Status         `json:"from"`
	To         Status         `json:"to"`
	Action     Action         `json:"action"`
	Actor      identity.Actor `json:"actor"`
	OccurredAt time.Time      `json:"occurred_at"`
}
