package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionKind string

const (
	KindOrganizerPayment   TransactionKind = "ORGANIZER_PAYMENT"
	KindPlatformFee        TransactionKind = "PLATFORM_FEE"
	KindProviderPayout     TransactionKind = "PROVIDER_PAYOUT"
	KindRefund             TransactionKind = "REFUND"
	KindProviderAdjustment TransactionKind = "PROVIDER_ADJUSTMENT"

	// KindPlatformFeeReversal hands back fee recognised before a later refund
	// drew on the same escrow.
	KindPlatformFeeReversal TransactionKind = "PLATFORM_FEE_REVERSAL"
)

// PaysProvider reports whether the kind moves money to the provider.
func (k TransactionKind) PaysProvider() bool {
	return k == KindProviderPayout || k == KindProviderAdjustment
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

func (s TransactionStatus) IsFinal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusCancelled
}

// Transaction is one money movement tied to a booking. At most one row exists
// per (booking id, kind).
type Transaction struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	BookingID      snowflake.ID      `json:"booking_id" gorm:"not null"`
	Kind           TransactionKind   `json:"kind" gorm:"type:text;not null"`
	Status         TransactionStatus `json:"status" gorm:"type:text;not null"`
	Amount         int64             `json:"amount" gorm:"not null"`
	Currency       string            `json:"currency" gorm:"type:text;not null"`
	IdempotencyKey string            `json:"idempotency_key" gorm:"type:text;not null"`
	ExternalRef    *string           `json:"external_ref,omitempty"`
	FailureReason  *string           `json:"failure_reason,omitempty"`
	LeaseUntil     *time.Time        `json:"-"`
	Attempts       int               `json:"attempts" gorm:"not null;default:0"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

func (Transaction) TableName() string { return "booking_transactions" }

type PayoutStatus string

const (
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
)

// Payout records the gateway side of a provider payout or adjustment.
type Payout struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	TransactionID     snowflake.ID      `json:"transaction_id" gorm:"not null"`
	BookingID         snowflake.ID      `json:"booking_id" gorm:"not null"`
	RecipientRef      string            `json:"recipient_ref" gorm:"type:text;not null"`
	Amount            int64             `json:"amount" gorm:"not null"`
	Currency          string            `json:"currency" gorm:"type:text;not null"`
	Status            PayoutStatus      `json:"status" gorm:"type:text;not null"`
	GatewayProvider   string            `json:"gateway_provider" gorm:"type:text;not null"`
	RecipientCode     *string           `json:"-"`
	TransferReference string            `json:"transfer_reference" gorm:"type:text;not null"`
	GatewayPayload    datatypes.JSONMap `json:"-"`
	FailureReason     *string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (Payout) TableName() string { return "payouts" }
