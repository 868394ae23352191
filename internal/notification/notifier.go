// Package notification emits fire-and-forget messages to booking parties.
// Delivery (email, SMS, push) happens downstream of the outbound topic.
package notification

import (
	"context"
	"time"
)

type Kind string

const (
	KindPayoutCompleted  Kind = "payout.completed"
	KindPayoutFailed     Kind = "payout.failed"
	KindPayoutProcessing Kind = "payout.processing"
	KindRefundCompleted  Kind = "refund.completed"
	KindRefundFailed     Kind = "refund.failed"
	KindRefundProcessing Kind = "refund.processing"
	KindDisputeOpened    Kind = "dispute.opened"
	KindDisputeResolved  Kind = "dispute.resolved"
)

type Notifier interface {
	Emit(ctx context.Context, recipientRef string, kind Kind, payload map[string]any) error
}

// Message is the wire format on the outbound topic.
type Message struct {
	ID           string         `json:"id"`
	RecipientRef string         `json:"recipient_ref"`
	Kind         Kind           `json:"kind"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Nop struct{}

func (Nop) Emit(context.Context, string, Kind, map[string]any) error { return nil }
