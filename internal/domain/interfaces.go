package domain

import (
	"context"

	"darshan/internal/models"
)

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// AvailabilityCache caches per-date availability snapshots. Get returns
// (nil, nil) on a cache miss.
type AvailabilityCache interface {
	Get(ctx context.Context, date string) ([]*models.SlotAvailability, error)
	Set(ctx context.Context, date string, slots []*models.SlotAvailability) error
	Invalidate(ctx context.Context, date string) error
}

// Mailer delivers a booking confirmation to the visitor.
type Mailer interface {
	SendConfirmation(ctx context.Context, booking *models.Booking, slot *models.Slot) error
}

type NotifyEnqueuer interface {
	EnqueueConfirmation(ctx context.Context, bookingID string) error
}

type BookingService interface {
	CreateBooking(ctx context.Context, req *models.BookingRequest) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	GetByContact(ctx context.Context, contact string) ([]*models.Booking, error)
}

type SlotService interface {
	Availability(ctx context.Context, date string) ([]*models.SlotAvailability, error)
	GetSlot(ctx context.Context, id string) (*models.Slot, error)
	CreateSlot(ctx context.Context, slot *models.Slot) error
	SetCapacity(ctx context.Context, slotID string, capacity int64) error
	SetActive(ctx context.Context, slotID string, active bool) error
	DeleteSlot(ctx context.Context, slotID string) error
}

type CheckinGate interface {
	Verify(ctx context.Context, encodedToken string) *models.CheckinDecision
	CheckIn(ctx context.Context, encodedToken string) *models.CheckinDecision
}

type Exporter interface {
	OccupancyReport(ctx context.Context, startDate, endDate string) (string, error)
}
