package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable covers timeouts, 5xx and network failures. Retrying
	// with the same reference is safe.
	ErrUnavailable       = errors.New("gateway_unavailable")
	ErrRejected          = errors.New("gateway_rejected")
	ErrTransferNotFound  = errors.New("transfer_not_found")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrEventIgnored      = errors.New("event_ignored")
	ErrProviderNotFound  = errors.New("gateway_provider_not_found")
	ErrInvalidConfig     = errors.New("invalid_gateway_config")
	ErrInvalidRecipient  = errors.New("invalid_recipient")
	ErrMissingPaymentRef = errors.New("missing_payment_reference")
)

const CodeInvalidRecipient = "invalid_recipient"

// RejectedError is a permanent refusal from the gateway.
type RejectedError struct {
	Provider string
	Code     string
	Reason   string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway_rejected: %s: %s", e.Code, e.Reason)
	}
	return "gateway_rejected: " + e.Reason
}

func (e *RejectedError) Is(target error) bool {
	if target == ErrInvalidRecipient {
		return e.Code == CodeInvalidRecipient
	}
	return target == ErrRejected
}

func Rejected(provider, code, reason string) error {
	return &RejectedError{Provider: provider, Code: code, Reason: reason}
}

// InvalidRecipient rejects a payout destination the gateway cannot pay.
// It matches both ErrRejected and ErrInvalidRecipient.
func InvalidRecipient(provider, reason string) error {
	return Rejected(provider, CodeInvalidRecipient, reason)
}

func Unavailable(provider string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", provider, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", provider, ErrUnavailable, cause)
}

// RejectionReason returns the provider reason carried by err, if any.
func RejectionReason(err error) (string, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return "", false
}
