package domain

import "errors"

var (
	ErrNotEligible          = errors.New("not_eligible")
	ErrAlreadyPaidOut       = errors.New("already_paid_out")
	ErrRecipientNotVerified = errors.New("recipient_not_verified")
	ErrNoDestination        = errors.New("no_payout_destination")
	ErrPayoutInFlight       = errors.New("payout_in_flight")
	ErrResolutionNotFound   = errors.New("resolution_not_found")
	ErrPaymentNotCaptured   = errors.New("organizer_payment_not_captured")
	ErrInvalidTrigger       = errors.New("invalid_trigger")
	ErrInvalidPayment       = errors.New("invalid_payment")
)
