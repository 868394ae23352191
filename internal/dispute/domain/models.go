package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
)

type Reason string

const (
	ReasonNoShow       Reason = "NO_SHOW"
	ReasonQuality      Reason = "QUALITY"
	ReasonLateArrival  Reason = "LATE_ARRIVAL"
	ReasonPaymentIssue Reason = "PAYMENT_ISSUE"
	ReasonOther        Reason = "OTHER"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonNoShow, ReasonQuality, ReasonLateArrival, ReasonPaymentIssue, ReasonOther:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusOpen              Status = "OPEN"
	StatusUnderReview       Status = "UNDER_REVIEW"
	StatusResolvedOrganizer Status = "RESOLVED_ORGANIZER"
	StatusResolvedProvider  Status = "RESOLVED_PROVIDER"
	StatusResolvedPartial   Status = "RESOLVED_PARTIAL"
)

// IsOpen reports whether the dispute still blocks normal settlement.
func (s Status) IsOpen() bool {
	return s == StatusOpen || s == StatusUnderReview
}

type Outcome string

const (
	OutcomeOrganizerFavor Outcome = "ORGANIZER_FAVOR"
	OutcomeProviderFavor  Outcome = "PROVIDER_FAVOR"
	OutcomePartial        Outcome = "PARTIAL"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeOrganizerFavor, OutcomeProviderFavor, OutcomePartial:
		return true
	default:
		return false
	}
}

// Status is the dispute status the outcome resolves to.
func (o Outcome) Status() Status {
	switch o {
	case OutcomeOrganizerFavor:
		return StatusResolvedOrganizer
	case OutcomeProviderFavor:
		return StatusResolvedProvider
	case OutcomePartial:
		return StatusResolvedPartial
	default:
		return ""
	}
}

// BookingStatus is the booking status reached by the outcome.
func (o Outcome) BookingStatus() bookingdomain.Status {
	switch o {
	case OutcomeOrganizerFavor:
		return bookingdomain.StatusResolvedOrganizer
	case OutcomeProviderFavor:
		return bookingdomain.StatusResolvedProvider
	case OutcomePartial:
		return bookingdomain.StatusResolvedPartial
	default:
		return ""
	}
}

type Dispute struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	BookingID       snowflake.ID `json:"booking_id"`
	Status          Status       `json:"status"`
	Reason          Reason       `json:"reason"`
	Explanation     string       `json:"explanation,omitempty"`
	FiledByRef      string       `json:"raised_by_ref"`
	FiledByRole     string       `json:"raised_by_role"`
	Outcome         *Outcome     `json:"outcome,omitempty"`
	RefundAmount    int64        `json:"refund_amount"`
	PayoutAmount    int64        `json:"payout_amount"`
	DisputeFee      int64        `json:"dispute_fee"`
	ResolutionNotes *string      `json:"resolution_notes,omitempty"`
	ResolvedByRef   *string      `json:"resolved_by_ref,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
}

func (Dispute) TableName() string { return "disputes" }
