package service

import (
	"context"

	"darshan/internal/database"
	"darshan/internal/domain"
	"darshan/internal/events"
	"darshan/internal/ledger"
	"darshan/internal/models"

	"github.com/rs/zerolog"
)

type SlotService struct {
	db       *database.DB
	ledger   *ledger.CapacityLedger
	cache    domain.AvailabilityCache
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewSlotService(db *database.DB, capLedger *ledger.CapacityLedger, cache domain.AvailabilityCache, eventBus domain.EventPublisher, logger *zerolog.Logger) *SlotService {
	return &SlotService{
		db:       db,
		ledger:   capLedger,
		cache:    cache,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Availability returns the per-slot headcounts for a date, served from
// cache when fresh. The cache is advisory; booking decisions always go
// through the ledger.
func (s *SlotService) Availability(ctx context.Context, date string) ([]*models.SlotAvailability, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, date)
		if err != nil {
			s.logger.Warn().Err(err).Str("date", date).Msg("availability cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	slots, err := s.db.ListSlotsByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	result := make([]*models.SlotAvailability, 0, len(slots))
	for _, slot := range slots {
		result = append(result, &models.SlotAvailability{
			SlotID:    slot.ID,
			Date:      slot.Date,
			StartTime: slot.StartTime,
			EndTime:   slot.EndTime,
			Booked:    slot.BookedCount,
			Available: slot.Capacity - slot.BookedCount,
			IsActive:  slot.IsActive,
		})
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, date, result); err != nil {
			s.logger.Warn().Err(err).Str("date", date).Msg("availability cache write failed")
		}
	}
	return result, nil
}

func (s *SlotService) GetSlot(ctx context.Context, id string) (*models.Slot, error) {
	return s.db.GetSlot(ctx, s.db, id)
}

func (s *SlotService) CreateSlot(ctx context.Context, slot *models.Slot) error {
	if err := s.db.CreateSlot(ctx, slot); err != nil {
		return err
	}
	s.invalidate(ctx, slot.Date)
	s.logger.Info().Str("slot_id", slot.ID).Str("date", slot.Date).Msg("slot created")
	return nil
}

func (s *SlotService) SetCapacity(ctx context.Context, slotID string, capacity int64) error {
	if err := s.ledger.SetCapacity(ctx, s.db, slotID, capacity); err != nil {
		return err
	}
	s.invalidateForSlot(ctx, slotID)
	return nil
}

func (s *SlotService) SetActive(ctx context.Context, slotID string, active bool) error {
	if err := s.db.SetSlotActive(ctx, slotID, active); err != nil {
		return err
	}
	s.invalidateForSlot(ctx, slotID)
	if !active && s.eventBus != nil {
		_ = s.eventBus.PublishJSON(events.EventSlotClosed, map[string]string{"slot_id": slotID})
	}
	return nil
}

func (s *SlotService) DeleteSlot(ctx context.Context, slotID string) error {
	slot, err := s.db.GetSlot(ctx, s.db, slotID)
	if err != nil {
		return err
	}
	if err := s.db.DeleteSlot(ctx, slotID); err != nil {
		return err
	}
	s.invalidate(ctx, slot.Date)
	return nil
}

func (s *SlotService) invalidateForSlot(ctx context.Context, slotID string) {
	slot, err := s.db.GetSlot(ctx, s.db, slotID)
	if err != nil {
		return
	}
	s.invalidate(ctx, slot.Date)
}

func (s *SlotService) invalidate(ctx context.Context, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, date); err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("cache invalidate error")
	}
}
