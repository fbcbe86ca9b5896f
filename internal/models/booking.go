package models

import "time"

type Booking struct {
	ID             string     `json:"id"`
	SlotID         string     `json:"slot_id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone"`
	Email          string     `json:"email"`
	NumberOfPeople int64      `json:"number_of_people"`
	Status         string     `json:"status"` // confirmed, cancelled, checked-in
	Token          string     `json:"token,omitempty"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BookingRequest is what a visitor submits to reserve a slot.
type BookingRequest struct {
	SlotID         string `json:"slot_id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	NumberOfPeople int64  `json:"number_of_people"`
}
