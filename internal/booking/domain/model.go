package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusAccepted          Status = "ACCEPTED"
	StatusDeclined          Status = "DECLINED"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
	StatusDisputed          Status = "DISPUTED"
	StatusResolvedOrganizer Status = "RESOLVED_ORGANIZER"
	StatusResolvedProvider  Status = "RESOLVED_PROVIDER"
	StatusResolvedPartial   Status = "RESOLVED_PARTIAL"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusAccepted,
	StatusDeclined,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusDisputed,
	StatusResolvedOrganizer,
	StatusResolvedProvider,
	StatusResolvedPartial,
}

// SettleableStatuses are the states in which a payout or refund may run.
var SettleableStatuses = []Status{
	StatusCompleted,
	StatusResolvedOrganizer,
	StatusResolvedProvider,
	StatusResolvedPartial,
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusCancelled, StatusResolvedOrganizer, StatusResolvedProvider, StatusResolvedPartial:
		return true
	default:
		return false
	}
}

func (s Status) IsSettleable() bool {
	for _, status := range SettleableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s Status) IsResolved() bool {
	switch s {
	case StatusResolvedOrganizer, StatusResolvedProvider, StatusResolvedPartial:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Action is an actor-requested change to a booking.
type Action string

const (
	ActionAccept           Action = "ACCEPT"
	ActionDecline          Action = "DECLINE"
	ActionStart            Action = "START"
	ActionCancel           Action = "CANCEL"
	ActionComplete         Action = "COMPLETE"
	ActionDispute          Action = "DISPUTE"
	ActionResolveOrganizer Action = "RESOLVE_ORGANIZER"
	ActionResolveProvider  Action = "RESOLVE_PROVIDER"
	ActionResolvePartial   Action = "RESOLVE_PARTIAL"
)

// AllActions lists every action the state machine knows.
var AllActions = []Action{
	ActionAccept,
	ActionDecline,
	ActionStart,
	ActionCancel,
	ActionComplete,
	ActionDispute,
	ActionResolveOrganizer,
	ActionResolveProvider,
	ActionResolvePartial,
}

// Booking is the canonical record of an engagement between an organizer and a provider.
type Booking struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Status          Status       `json:"status" gorm:"type:text;not null;index"`
	GrossAmount     int64        `json:"gross_amount" gorm:"not null"`
	PlatformFee     int64        `json:"platform_fee" gorm:"not null"`
	RecipientAmount int64        `json:"recipient_amount" gorm:"not null"`
	Currency        string       `json:"currency" gorm:"type:text;not null"`
	OrganizerRef    string       `json:"organizer_ref" gorm:"type:text;not null;index"`
	ProviderRef     string       `json:"provider_ref" gorm:"type:text;not null;index"`
	EventRef        string       `json:"event_ref,omitempty" gorm:"type:text"`
	IsPaidOut       bool         `json:"is_paid_out" gorm:"not null;default:false"`
	Notes           string       `json:"notes,omitempty" gorm:"type:text"`
	ProposedAt      time.Time    `json:"proposed_at" gorm:"not null"`
	AcceptedAt      *time.Time   `json:"accepted_at,omitempty"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	CancelledAt     *time.Time   `json:"cancelled_at,omitempty"`
	DeclinedAt      *time.Time   `json:"declined_at,omitempty"`
	DisputedAt      *time.Time   `json:"disputed_at,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	SettledAt       *time.Time   `json:"settled_at,omitempty"`
	Version         int64        `json:"version" gorm:"not null;default:0"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }
