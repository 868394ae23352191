package domain

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrForbidden         = errors.New("forbidden")
	ErrAlreadyTerminal   = errors.New("already_terminal")
	ErrBookingNotFound   = errors.New("booking_not_found")
	ErrConcurrentUpdate  = errors.New("concurrent_update")

	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidOrganizer = errors.New("invalid_organizer")
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidActor     = errors.New("invalid_actor")
)
