package repository

import (
	"context"
	"sync/atomic"
	"time"

	"darshan/internal/domain"
	"darshan/internal/models"

	"github.com/rs/zerolog"
)

// FailoverAvailabilityCache prefers the primary cache (redis) and drops to
// the in-memory fallback when it misbehaves. After a minute it probes the
// primary again.
type FailoverAvailabilityCache struct {
	primary   domain.AvailabilityCache
	fallback  domain.AvailabilityCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverAvailabilityCache(primary, fallback domain.AvailabilityCache, logger *zerolog.Logger) *FailoverAvailabilityCache {
	return &FailoverAvailabilityCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (c *FailoverAvailabilityCache) markDown(err error) {
	c.logger.Error().Err(err).Msg("Primary availability cache failed, falling back to memory")
	c.isDown.Store(true)
	c.lastCheck = time.Now()
}

func (c *FailoverAvailabilityCache) Get(ctx context.Context, date string) ([]*models.SlotAvailability, error) {
	if !c.isDown.Load() {
		slots, err := c.primary.Get(ctx, date)
		if err == nil {
			return slots, nil
		}
		c.markDown(err)
	}

	// Try to recover after 1 minute
	if c.isDown.Load() && time.Since(c.lastCheck) > time.Minute {
		slots, err := c.primary.Get(ctx, date)
		if err == nil {
			c.isDown.Store(false)
			return slots, nil
		}
		c.lastCheck = time.Now()
	}

	return c.fallback.Get(ctx, date)
}

func (c *FailoverAvailabilityCache) Set(ctx context.Context, date string, slots []*models.SlotAvailability) error {
	if !c.isDown.Load() {
		err := c.primary.Set(ctx, date, slots)
		if err == nil {
			return nil
		}
		c.markDown(err)
	}

	return c.fallback.Set(ctx, date, slots)
}

func (c *FailoverAvailabilityCache) Invalidate(ctx context.Context, date string) error {
	if !c.isDown.Load() {
		err := c.primary.Invalidate(ctx, date)
		if err == nil {
			// Keep both sides coherent while primary is healthy.
			return c.fallback.Invalidate(ctx, date)
		}
		c.markDown(err)
	}

	return c.fallback.Invalidate(ctx, date)
}
