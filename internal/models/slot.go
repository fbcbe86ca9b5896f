package models

import (
	"fmt"
	"time"
)

type Slot struct {
	ID          string    `yaml:"id" json:"id"`
	Date        string    `yaml:"date" json:"date"`             // YYYY-MM-DD
	StartTime   string    `yaml:"start_time" json:"start_time"` // HH:MM
	EndTime     string    `yaml:"end_time" json:"end_time"`     // HH:MM
	Capacity    int64     `yaml:"capacity" json:"capacity"`
	BookedCount int64     `yaml:"-" json:"booked_count"`
	IsActive    bool      `yaml:"is_active" json:"is_active"`
	CreatedAt   time.Time `yaml:"-" json:"created_at"`
	UpdatedAt   time.Time `yaml:"-" json:"updated_at"`
}

// TimeRange returns the canonical "HH:MM-HH:MM" form embedded in admission tokens.
func (s *Slot) TimeRange() string {
	return s.StartTime + "-" + s.EndTime
}

// StartsAt resolves the slot's date and start time into a wall-clock instant
// in the given location.
func (s *Slot) StartsAt(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", s.Date+" "+s.StartTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse slot start %q %q: %w", s.Date, s.StartTime, err)
	}
	return t, nil
}

type SlotAvailability struct {
	SlotID    string `json:"slot_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Booked    int64  `json:"booked"`
	Available int64  `json:"available"`
	IsActive  bool   `json:"is_active"`
}
