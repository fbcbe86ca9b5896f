package service

import "errors"

var (
	ErrDuplicateBooking = errors.New("contact already has a booking for this slot")
	ErrInvalidContact   = errors.New("contact must be a 10-digit phone or an email")
	ErrInvalidParty     = errors.New("invalid number of people")
	ErrPastCutoff       = errors.New("cancellation window has closed")
	ErrAlreadyCancelled = errors.New("booking is already cancelled")
	ErrAlreadyCheckedIn = errors.New("booking is already checked in")
)
