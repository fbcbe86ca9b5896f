package worker

import (
	"context"

	"darshan/internal/models"

	"github.com/rs/zerolog"
)

// LogMailer writes confirmations to the log. Stands in until a real
// gateway is configured.
type LogMailer struct {
	logger *zerolog.Logger
}

func NewLogMailer(logger *zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendConfirmation(ctx context.Context, booking *models.Booking, slot *models.Slot) error {
	m.logger.Info().
		Str("booking_id", booking.ID).
		Str("email", booking.Email).
		Str("phone", booking.Phone).
		Str("date", slot.Date).
		Str("slot_time", slot.TimeRange()).
		Int64("people", booking.NumberOfPeople).
		Msg("booking confirmation")
	return nil
}
