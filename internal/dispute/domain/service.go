package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	"github.com/smallbiznis/gigpay/internal/identity"
	settlementdomain "github.com/smallbiznis/gigpay/internal/settlement/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, d *Dispute) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Dispute, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Dispute, error)
	FindOpenByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*Dispute, error)
	ListByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]Dispute, error)
	// FindLatestResolved returns the most recently resolved dispute of a booking.
	FindLatestResolved(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*Dispute, error)
	MarkUnderReview(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// Resolve writes the resolution only while the dispute is still open.
	Resolve(ctx context.Context, db *gorm.DB, d *Dispute) (bool, error)
}

type FileRequest struct {
	BookingID   snowflake.ID   `json:"booking_id"`
	Reason      Reason         `json:"reason"`
	Explanation string         `json:"explanation"`
	RaisedBy    identity.Actor `json:"-"`
}

type ResolveRequest struct {
	DisputeID    snowflake.ID   `json:"dispute_id"`
	Outcome      Outcome        `json:"outcome"`
	Notes        string         `json:"notes"`
	RefundAmount *int64         `json:"refund_amount"`
	PayoutAmount *int64         `json:"payout_amount"`
	Resolver     identity.Actor `json:"-"`
}

// ResolveResult is the committed resolution and the settlement it started.
type ResolveResult struct {
	Dispute         Dispute                  `json:"dispute"`
	Booking         bookingdomain.Booking    `json:"booking"`
	Settlement      *settlementdomain.Result `json:"settlement,omitempty"`
	SettlementError string                   `json:"settlement_error,omitempty"`
}

type Service interface {
	FileDispute(ctx context.Context, req FileRequest) (*Dispute, error)
	MarkUnderReview(ctx context.Context, disputeID snowflake.ID, actor identity.Actor) (*Dispute, error)
	Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error)
	Get(ctx context.Context, id snowflake.ID) (*Dispute, error)
	ListByBooking(ctx context.Context, bookingID snowflake.ID) ([]Dispute, error)
}
