package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/identity"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, b *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	// UpdateState writes b only when the stored version equals expectedVersion.
	UpdateState(ctx context.Context, db *gorm.DB, b *Booking, expectedVersion int64) (bool, error)
	MarkPaidOut(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkSettled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// RecordFee stores the fee actually recognised; the recipient amount keeps the split whole.
	RecordFee(ctx context.Context, db *gorm.DB, id snowflake.ID, fee int64, now time.Time) error
	ListUnsettled(ctx context.Context, db *gorm.DB, filter UnsettledFilter) ([]snowflake.ID, error)
}

// UnsettledFilter selects bookings the retry sweep should visit.
type UnsettledFilter struct {
	Statuses  []Status
	OlderThan time.Time
	Now       time.Time
	Limit     int
}

type CreateRequest struct {
	GrossAmount  int64          `json:"gross_amount"`
	Currency     string         `json:"currency"`
	OrganizerRef string         `json:"organizer_ref"`
	ProviderRef  string         `json:"provider_ref"`
	EventRef     string         `json:"event_ref"`
	Notes        string         `json:"notes"`
	Actor        identity.Actor `json:"-"`
}

type TransitionRequest struct {
	BookingID snowflake.ID   `json:"booking_id"`
	Action    Action         `json:"action"`
	Notes     string         `json:"notes"`
	Actor     identity.Actor `json:"-"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Booking, error)
	Get(ctx context.Context, id snowflake.ID) (*Booking, error)
	RequestTransition(ctx context.Context, req TransitionRequest) (*Booking, error)
	// TransitionTx applies a transition inside a caller-owned transaction.
	// The caller publishes the returned events after commit.
	TransitionTx(ctx context.Context, tx *gorm.DB, req TransitionRequest) (*Booking, []Event, error)
	// Publish forwards committed events to the settlement trigger.
	Publish(ctx context.Context, events []Event)
}

// SettlementTrigger receives settlement requests emitted by committed transitions.
type SettlementTrigger interface {
	RequestSettlement(ctx context.Context, event Event) error
}
