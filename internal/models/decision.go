package models

import "time"

// Check-in decision reasons.
const (
	ReasonAccepted         = "accepted"
	ReasonTokenInvalid     = "token_invalid"
	ReasonBookingNotFound  = "booking_not_found"
	ReasonBookingCancelled = "booking_cancelled"
	ReasonAlreadyUsed      = "already_used"
	ReasonSlotMismatch     = "slot_mismatch"
	ReasonWrongDate        = "wrong_date"
)

// CheckinDecision is the verdict of presenting a token at the gate.
// Exactly one outcome is reported; Accepted and Reason never disagree.
type CheckinDecision struct {
	Accepted    bool       `json:"accepted"`
	Reason      string     `json:"reason"`
	Detail      string     `json:"detail,omitempty"`
	Booking     *Booking   `json:"booking,omitempty"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
}
