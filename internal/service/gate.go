package service

import (
	"context"
	"errors"
	"time"

	"darshan/internal/database"
	"darshan/internal/domain"
	"darshan/internal/events"
	"darshan/internal/metrics"
	"darshan/internal/models"
	"darshan/internal/token"

	"github.com/rs/zerolog"
)

// CheckinGate verifies admission tokens and marks bookings as used. The
// token's signature proves the booking facts; the database is the source
// of truth for whether those facts are still redeemable.
type CheckinGate struct {
	db       *database.DB
	codec    *token.Codec
	eventBus domain.EventPublisher
	location *time.Location
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewCheckinGate(db *database.DB, codec *token.Codec, eventBus domain.EventPublisher, location *time.Location, logger *zerolog.Logger) *CheckinGate {
	return &CheckinGate{
		db:       db,
		codec:    codec,
		eventBus: eventBus,
		location: location,
		logger:   logger,
		now:      time.Now,
	}
}

// Verify inspects a token without consuming it. Suitable for a preview
// screen at the gate.
func (g *CheckinGate) Verify(ctx context.Context, encodedToken string) *models.CheckinDecision {
	decision, _, _ := g.evaluate(ctx, encodedToken)
	return decision
}

// CheckIn verifies the token and, if everything holds, flips the booking
// to checked-in. The flip is a single conditional update: when two gates
// scan the same token, one wins and the other sees already_used.
func (g *CheckinGate) CheckIn(ctx context.Context, encodedToken string) *models.CheckinDecision {
	decision, booking, slot := g.evaluate(ctx, encodedToken)
	if !decision.Accepted {
		metrics.IncCheckin(decision.Reason)
		return decision
	}

	checkedInAt := g.now().In(g.location)
	ok, err := g.db.TransitionBookingStatus(ctx, g.db, booking.ID, models.StatusConfirmed, models.StatusCheckedIn, &checkedInAt)
	if err != nil {
		g.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("checkin transition failed")
		return reject(models.ReasonTokenInvalid, "internal error, try again")
	}
	if !ok {
		// Проиграли гонку; смотрим кто успел раньше
		fresh, err := g.db.GetBooking(ctx, g.db, booking.ID)
		if err != nil {
			return reject(models.ReasonBookingNotFound, "booking disappeared during check-in")
		}
		if fresh.Status == models.StatusCancelled {
			metrics.IncCheckin(models.ReasonBookingCancelled)
			return reject(models.ReasonBookingCancelled, "booking was cancelled")
		}
		metrics.IncCheckin(models.ReasonAlreadyUsed)
		d := reject(models.ReasonAlreadyUsed, "token was already redeemed")
		d.CheckedInAt = fresh.CheckedInAt
		return d
	}

	booking.Status = models.StatusCheckedIn
	booking.CheckedInAt = &checkedInAt
	decision.Booking = booking
	decision.CheckedInAt = &checkedInAt

	metrics.IncCheckin(models.ReasonAccepted)
	g.publish(booking, slot)
	g.logger.Info().
		Str("booking_id", booking.ID).
		Str("slot_id", booking.SlotID).
		Int64("people", booking.NumberOfPeople).
		Msg("visitor checked in")

	return decision
}

// evaluate runs every read-only check. The returned booking and slot are
// non-nil only when the decision is an accept.
func (g *CheckinGate) evaluate(ctx context.Context, encodedToken string) (*models.CheckinDecision, *models.Booking, *models.Slot) {
	fields, err := g.codec.Decode(encodedToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrIntegrityMismatch):
			return reject(models.ReasonTokenInvalid, "token signature does not match"), nil, nil
		case errors.Is(err, token.ErrStale):
			return reject(models.ReasonTokenInvalid, "token has expired"), nil, nil
		default:
			return reject(models.ReasonTokenInvalid, "token could not be parsed"), nil, nil
		}
	}

	booking, err := g.db.GetBooking(ctx, g.db, fields.BookingID)
	if errors.Is(err, database.ErrBookingNotFound) {
		return reject(models.ReasonBookingNotFound, "no booking for this token"), nil, nil
	}
	if err != nil {
		g.logger.Error().Err(err).Str("booking_id", fields.BookingID).Msg("booking lookup failed")
		return reject(models.ReasonBookingNotFound, "booking lookup failed"), nil, nil
	}

	if booking.SlotID != fields.SlotID {
		return reject(models.ReasonSlotMismatch, "token does not belong to this booking's slot"), nil, nil
	}

	switch booking.Status {
	case models.StatusCancelled:
		return reject(models.ReasonBookingCancelled, "booking was cancelled"), nil, nil
	case models.StatusCheckedIn:
		d := reject(models.ReasonAlreadyUsed, "token was already redeemed")
		d.CheckedInAt = booking.CheckedInAt
		return d, nil, nil
	}

	slot, err := g.db.GetSlot(ctx, g.db, booking.SlotID)
	if err != nil {
		return reject(models.ReasonSlotMismatch, "slot for this booking no longer exists"), nil, nil
	}

	// Токен привязан к расписанию на момент выдачи; после переноса слота он недействителен
	if slot.Date != fields.Date || slot.TimeRange() != fields.SlotTime {
		return reject(models.ReasonSlotMismatch, "token does not match the slot's current schedule"), nil, nil
	}

	today := g.now().In(g.location).Format("2006-01-02")
	if slot.Date != today {
		return reject(models.ReasonWrongDate, "token is valid for "+slot.Date), nil, nil
	}

	return &models.CheckinDecision{
		Accepted: true,
		Reason:   models.ReasonAccepted,
		Booking:  booking,
	}, booking, slot
}

func (g *CheckinGate) publish(booking *models.Booking, slot *models.Slot) {
	if g.eventBus == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID:      booking.ID,
		SlotID:         booking.SlotID,
		Name:           booking.Name,
		NumberOfPeople: booking.NumberOfPeople,
		Status:         booking.Status,
		Date:           slot.Date,
		SlotTime:       slot.TimeRange(),
		CheckedInAt:    booking.CheckedInAt,
	}
	if err := g.eventBus.PublishJSON(events.EventBookingCheckedIn, payload); err != nil {
		g.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func reject(reason, detail string) *models.CheckinDecision {
	return &models.CheckinDecision{
		Accepted: false,
		Reason:   reason,
		Detail:   detail,
	}
}
