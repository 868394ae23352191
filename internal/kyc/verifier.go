// Package kyc reads recipient verification state and payout destinations.
// Profiles are written by the account service; this package only reads them
// and caches gateway recipient codes.
package kyc

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=kycmock/verifier.go -package=kycmock github.com/smallbiznis/gigpay/internal/kyc Verifier

var ErrProfileNotFound = errors.New("payout_profile_not_found")

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusRejected Status = "REJECTED"
)

// Destination is where a recipient's payouts go.
type Destination struct {
	RecipientRef         string
	AccountName          string
	AccountNumber        string
	BankCode             string
	Currency             string
	GatewayRecipientCode string
	StripeAccountID      string
}

// Usable reports whether any payout rail is configured.
func (d *Destination) Usable() bool {
	if d == nil {
		return false
	}
	return d.GatewayRecipientCode != "" || d.StripeAccountID != "" ||
		(d.AccountNumber != "" && d.BankCode != "")
}

type Verifier interface {
	IsVerified(ctx context.Context, recipientRef string) (bool, error)
	// PayoutDestination returns nil when the recipient has no usable destination.
	PayoutDestination(ctx context.Context, recipientRef string) (*Destination, error)
	// RememberRecipientCode caches the gateway recipient created for ref.
	RememberRecipientCode(ctx context.Context, recipientRef, code string) error
}
