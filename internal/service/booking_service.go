package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"darshan/internal/config"
	"darshan/internal/database"
	"darshan/internal/domain"
	"darshan/internal/events"
	"darshan/internal/ledger"
	"darshan/internal/metrics"
	"darshan/internal/models"
	"darshan/internal/token"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Indian mobile numbers: ten digits, first digit 6-9.
var phonePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

type BookingService struct {
	db           *database.DB
	ledger       *ledger.CapacityLedger
	codec        *token.Codec
	eventBus     domain.EventPublisher
	notify       domain.NotifyEnqueuer
	cache        domain.AvailabilityCache
	location     *time.Location
	cancelCutoff time.Duration
	maxParty     int64
	txRetries    int
	logger       *zerolog.Logger
	now          func() time.Time
}

func NewBookingService(
	db *database.DB,
	capLedger *ledger.CapacityLedger,
	codec *token.Codec,
	eventBus domain.EventPublisher,
	notify domain.NotifyEnqueuer,
	cache domain.AvailabilityCache,
	location *time.Location,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		db:           db,
		ledger:       capLedger,
		codec:        codec,
		eventBus:     eventBus,
		notify:       notify,
		cache:        cache,
		location:     location,
		cancelCutoff: time.Duration(cfg.CancelCutoffHours) * time.Hour,
		maxParty:     int64(cfg.MaxPartySize),
		txRetries:    cfg.TxRetries,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateBooking reserves capacity, records the booking and mints its
// admission token, all in one transaction. Capacity is claimed before the
// duplicate check so the rejection reasons stay stable under load.
func (s *BookingService) CreateBooking(ctx context.Context, req *models.BookingRequest) (*models.Booking, error) {
	if req.NumberOfPeople < 1 || req.NumberOfPeople > s.maxParty {
		return nil, ErrInvalidParty
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("name is required")
	}

	var booking *models.Booking
	var slot *models.Slot

	err := s.withRetry(ctx, func() error {
		return s.db.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			slot, err = s.db.GetSlot(ctx, tx, req.SlotID)
			if err != nil {
				return err
			}

			if err := s.ledger.Reserve(ctx, tx, slot.ID, req.NumberOfPeople); err != nil {
				if errors.Is(err, ledger.ErrCapacityExceeded) {
					metrics.IncCapacityRejection()
				}
				return err
			}

			count, err := s.db.CountActiveContactBookings(ctx, tx, slot.ID, req.Phone, req.Email)
			if err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateBooking
			}

			booking = &models.Booking{
				ID:             uuid.NewString(),
				SlotID:         slot.ID,
				Name:           req.Name,
				Phone:          req.Phone,
				Email:          req.Email,
				NumberOfPeople: req.NumberOfPeople,
				Status:         models.StatusConfirmed,
			}
			if err := s.db.InsertBooking(ctx, tx, booking); err != nil {
				return err
			}

			encoded, err := s.codec.Encode(token.Fields{
				BookingID:      booking.ID,
				SlotID:         slot.ID,
				Name:           booking.Name,
				Date:           slot.Date,
				SlotTime:       slot.TimeRange(),
				NumberOfPeople: booking.NumberOfPeople,
			})
			if err != nil {
				return err
			}
			booking.Token = encoded
			return s.db.SetBookingToken(ctx, tx, booking.ID, encoded)
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingCreated()
	s.invalidateDate(ctx, slot.Date)
	s.publishEvent(events.EventBookingCreated, booking, slot)
	s.enqueueNotify(ctx, booking.ID)

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("slot_id", slot.ID).
		Int64("people", booking.NumberOfPeople).
		Msg("booking created")

	return booking, nil
}

// CancelBooking frees the booking's seats if the slot is still more than
// the cutoff away. The status flip is a conditional update, so a cancel
// racing a check-in resolves to exactly one winner.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	var booking *models.Booking
	var slot *models.Slot

	err := s.withRetry(ctx, func() error {
		return s.db.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			booking, err = s.db.GetBooking(ctx, tx, bookingID)
			if err != nil {
				return err
			}
			switch booking.Status {
			case models.StatusCancelled:
				return ErrAlreadyCancelled
			case models.StatusCheckedIn:
				return ErrAlreadyCheckedIn
			}

			slot, err = s.db.GetSlot(ctx, tx, booking.SlotID)
			if err != nil {
				return err
			}
			startsAt, err := slot.StartsAt(s.location)
			if err != nil {
				return err
			}
			if startsAt.Sub(s.now().In(s.location)) < s.cancelCutoff {
				return ErrPastCutoff
			}

			ok, err := s.db.TransitionBookingStatus(ctx, tx, bookingID, models.StatusConfirmed, models.StatusCancelled, nil)
			if err != nil {
				return err
			}
			if !ok {
				// Потеряли гонку с другим переходом
				fresh, err := s.db.GetBooking(ctx, tx, bookingID)
				if err != nil {
					return err
				}
				if fresh.Status == models.StatusCheckedIn {
					return ErrAlreadyCheckedIn
				}
				return ErrAlreadyCancelled
			}
			booking.Status = models.StatusCancelled

			return s.ledger.Release(ctx, tx, booking.SlotID, booking.NumberOfPeople)
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingCancelled()
	s.invalidateDate(ctx, slot.Date)
	s.publishEvent(events.EventBookingCancelled, booking, slot)

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("slot_id", slot.ID).
		Msg("booking cancelled")

	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.db.GetBooking(ctx, s.db, bookingID)
}

// GetByContact looks up bookings by phone or email. The contact kind is
// inferred: ten digits starting 6-9 is a phone, anything with an @ is an
// email, the rest is rejected.
func (s *BookingService) GetByContact(ctx context.Context, contact string) ([]*models.Booking, error) {
	contact = strings.TrimSpace(contact)
	switch {
	case phonePattern.MatchString(contact):
		return s.db.GetBookingsByContact(ctx, "phone", contact)
	case strings.Contains(contact, "@"):
		return s.db.GetBookingsByContact(ctx, "email", contact)
	default:
		return nil, ErrInvalidContact
	}
}

// withRetry reruns fn on transient sqlite busy errors. Domain errors pass
// through untouched.
func (s *BookingService) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.txRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		err = fn()
		if err == nil || !isBusyError(err) {
			return err
		}
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("transaction busy, retrying")
	}
	return err
}

func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func (s *BookingService) invalidateDate(ctx context.Context, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, date); err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("cache invalidate error")
	}
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, slot *models.Slot) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:      booking.ID,
		SlotID:         booking.SlotID,
		Name:           booking.Name,
		Phone:          booking.Phone,
		Email:          booking.Email,
		NumberOfPeople: booking.NumberOfPeople,
		Status:         booking.Status,
		Date:           slot.Date,
		SlotTime:       slot.TimeRange(),
		CheckedInAt:    booking.CheckedInAt,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueNotify(ctx context.Context, bookingID string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.EnqueueConfirmation(ctx, bookingID); err != nil {
		s.logger.Error().Err(err).Str("booking_id", bookingID).Msg("notify enqueue error")
	}
}
