package repository

import (
	"context"
	"sync"
	"time"

	"darshan/internal/models"
)

type memoryEntry struct {
	slots     []*models.SlotAvailability
	expiresAt time.Time
}

type MemoryAvailabilityCache struct {
	entries sync.Map
	ttl     time.Duration
}

func NewMemoryAvailabilityCache(ttl time.Duration) *MemoryAvailabilityCache {
	return &MemoryAvailabilityCache{
		ttl: ttl,
	}
}

func (c *MemoryAvailabilityCache) Get(ctx context.Context, date string) ([]*models.SlotAvailability, error) {
	val, ok := c.entries.Load(date)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		c.entries.Delete(date)
		return nil, nil
	}
	return entry.slots, nil
}

func (c *MemoryAvailabilityCache) Set(ctx context.Context, date string, slots []*models.SlotAvailability) error {
	c.entries.Store(date, &memoryEntry{
		slots:     slots,
		expiresAt: time.Now().Add(c.ttl),
	})
	return nil
}

func (c *MemoryAvailabilityCache) Invalidate(ctx context.Context, date string) error {
	c.entries.Delete(date)
	return nil
}
