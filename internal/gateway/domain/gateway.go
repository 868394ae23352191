package domain

import (
	"context"
	"net/http"
	"time"
)

type TransferStatus string

const (
	TransferStatusPending TransferStatus = "pending"
	TransferStatusSuccess TransferStatus = "success"
	TransferStatusFailed  TransferStatus = "failed"
)

// RecipientDetails is the payout destination handed to the gateway.
type RecipientDetails struct {
	RecipientRef    string
	AccountName     string
	AccountNumber   string
	BankCode        string
	Currency        string
	RecipientCode   string
	StripeAccountID string
}

type Recipient struct {
	Code string
}

// TransferRequest moves Amount to a recipient. Reference is the idempotency key
// and is reused by every retry of the same leg.
type TransferRequest struct {
	Reference     string
	RecipientCode string
	Amount        int64
	Currency      string
	Reason        string
}

// RefundRequest returns Amount of a captured organizer payment.
type RefundRequest struct {
	Reference  string
	PaymentRef string
	Amount     int64
	Currency   string
}

// Transfer is the gateway's view of a transfer or refund.
type Transfer struct {
	Reference     string
	ExternalRef   string
	Status        TransferStatus
	Amount        int64
	Currency      string
	FailureReason string
	Raw           map[string]any
}

func (t *Transfer) Settled() bool {
	return t != nil && t.Status != TransferStatusPending
}

// Gateway is an external transfer provider. Implementations hold only
// immutable configuration and are safe for concurrent use.
type Gateway interface {
	Provider() string
	// ResolveRecipient looks up or creates the recipient and is safe to retry.
	ResolveRecipient(ctx context.Context, details RecipientDetails) (*Recipient, error)
	// InitiateTransfer returns the existing transfer when the reference
	// was already used.
	InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	// VerifyTransfer returns ErrTransferNotFound when the gateway never saw
	// the reference.
	VerifyTransfer(ctx context.Context, reference string) (*Transfer, error)
	InitiateRefund(ctx context.Context, req RefundRequest) (*Transfer, error)
	VerifyRefund(ctx context.Context, req RefundRequest) (*Transfer, error)
}

const (
	WebhookTransferSuccess  = "transfer.success"
	WebhookTransferFailed   = "transfer.failed"
	WebhookTransferReversed = "transfer.reversed"
	WebhookRefundProcessed  = "refund.processed"
	WebhookRefundFailed     = "refund.failed"
	WebhookChargeSuccess    = "charge.success"
)

// WebhookEvent is the canonical callback parsed by adapters.
type WebhookEvent struct {
	Provider      string
	EventID       string
	Type          string
	Reference     string
	ExternalRef   string
	BookingRef    string
	Amount        int64
	Currency      string
	FailureReason string
	OccurredAt    time.Time
	RawPayload    []byte
}

// WebhookParser verifies callback signatures and decodes the payload.
type WebhookParser interface {
	Provider() string
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookEvent, error)
}
