package domain

import "errors"

var (
	ErrDisputeNotFound    = errors.New("dispute_not_found")
	ErrDisputeAlreadyOpen = errors.New("dispute_already_open")
	ErrDisputeClosed      = errors.New("dispute_closed")
	ErrInvalidOutcome     = errors.New("invalid_outcome")
	ErrInvalidSplit       = errors.New("invalid_split")
	ErrInvalidReason      = errors.New("invalid_dispute_reason")
)
