package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigpay/internal/identity"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
	"gorm.io/gorm"
)

// ResolutionSource returns the latest resolution recorded for a booking, or
// nil when it has none.
type ResolutionSource interface {
	ResolutionFor(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*Resolution, error)
}

// WebhookRecord is a gateway callback kept for deduplication.
type WebhookRecord struct {
	ID          snowflake.ID
	Provider    string
	EventID     string
	EventType   string
	Payload     []byte
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

type WebhookRepository interface {
	// Record stores the event once and reports whether it was already processed.
	Record(ctx context.Context, db *gorm.DB, rec WebhookRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, provider, eventID string, now time.Time) error
}

type OrganizerPaymentRequest struct {
	BookingID   snowflake.ID   `json:"booking_id"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	ExternalRef string         `json:"external_ref"`
	Actor       identity.Actor `json:"-"`
}

type Service interface {
	// Settle drives every leg of the booking's plan. The returned error joins
	// guard failures and rejections; unavailable legs only show in the result.
	Settle(ctx context.Context, bookingID snowflake.ID, trigger Trigger) (*Result, error)
	RetrySettlement(ctx context.Context, bookingID snowflake.ID) (*Result, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	RecordOrganizerPayment(ctx context.Context, req OrganizerPaymentRequest) (*ledgerdomain.Transaction, error)
}
