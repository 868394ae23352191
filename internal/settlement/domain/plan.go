package domain

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	bookingdomain "github.com/smallbiznis/gigpay/internal/booking/domain"
	ledgerdomain "github.com/smallbiznis/gigpay/internal/ledger/domain"
)

// Leg is one (booking, kind) money movement of a settlement plan.
type Leg struct {
	Kind   ledgerdomain.TransactionKind `json:"kind"`
	Amount int64                        `json:"amount"`
}

// Resolution carries the amounts a dispute resolution awarded.
type Resolution struct {
	DisputeID    snowflake.ID `json:"dispute_id"`
	RefundAmount int64        `json:"refund_amount"`
	PayoutAmount int64        `json:"payout_amount"`
}

type PlanInput struct {
	Booking    bookingdomain.Booking
	Resolution *Resolution
	// PaidAmount is the amount of the completed PROVIDER_PAYOUT, if any.
	PaidAmount int64
}

// BuildPlan derives the legs a booking still owes from its status.
func BuildPlan(in PlanInput) ([]Leg, error) {
	b := in.Booking
	if !b.Status.IsSettleable() {
		return nil, ErrNotEligible
	}
	paid := b.IsPaidOut

	switch b.Status {
	case bookingdomain.StatusCompleted:
		return []Leg{{Kind: ledgerdomain.KindProviderPayout, Amount: b.RecipientAmount}}, nil

	case bookingdomain.StatusResolvedProvider:
		if !paid {
			return []Leg{{Kind: ledgerdomain.KindProviderPayout, Amount: b.RecipientAmount}}, nil
		}
		return adjustment(b.RecipientAmount - in.PaidAmount), nil

	case bookingdomain.StatusResolvedPartial:
		if in.Resolution == nil {
			return nil, ErrResolutionNotFound
		}
		res := in.Resolution
		if paid && res.PayoutAmount < in.PaidAmount {
			return nil, ErrAlreadyPaidOut
		}
		var legs []Leg
		if res.RefundAmount > 0 {
			legs = append(legs, Leg{Kind: ledgerdomain.KindRefund, Amount: res.RefundAmount})
		}
		if !paid {
			if res.PayoutAmount > 0 {
				legs = append(legs, Leg{Kind: ledgerdomain.KindProviderPayout, Amount: res.PayoutAmount})
			}
			return legs, nil
		}
		return append(legs, adjustment(res.PayoutAmount-in.PaidAmount)...), nil

	case bookingdomain.StatusResolvedOrganizer:
		if in.Resolution == nil {
			return nil, ErrResolutionNotFound
		}
		if paid {
			return nil, ErrAlreadyPaidOut
		}
		if in.Resolution.RefundAmount <= 0 {
			return nil, nil
		}
		return []Leg{{Kind: ledgerdomain.KindRefund, Amount: in.Resolution.RefundAmount}}, nil
	}
	return nil, ErrNotEligible
}

func adjustment(amount int64) []Leg {
	if amount <= 0 {
		return nil
	}
	return []Leg{{Kind: ledgerdomain.KindProviderAdjustment, Amount: amount}}
}

// IdempotencyKey is the gateway reference of a leg, e.g. provider-payout-<id>.
// Every retry of the leg reuses it.
func IdempotencyKey(bookingID snowflake.ID, kind ledgerdomain.TransactionKind) string {
	prefix := slug.Make(strings.ReplaceAll(string(kind), "_", " "))
	return fmt.Sprintf("%s-%s", prefix, bookingID.String())
}
