package database

import "errors"

var (
	ErrSlotNotFound    = errors.New("slot not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrSlotNotEmpty    = errors.New("slot has active bookings")
)
