package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"darshan/internal/models"
)

func (db *DB) CreateSlot(ctx context.Context, slot *models.Slot) error {
	query := `INSERT INTO slots (id, date, start_time, end_time, capacity, booked_count, is_active, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		slot.ID,
		slot.Date,
		slot.StartTime,
		slot.EndTime,
		slot.Capacity,
		slot.BookedCount,
		slot.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	slot.CreatedAt = now
	slot.UpdatedAt = now
	return nil
}

// SeedSlots inserts slots that do not exist yet. Already-known IDs are left
// untouched so a restart never resets booked counts.
func (db *DB) SeedSlots(ctx context.Context, slots []models.Slot) error {
	query := `INSERT OR IGNORE INTO slots (id, date, start_time, end_time, capacity, booked_count, is_active, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`
	now := time.Now()
	for _, slot := range slots {
		if _, err := db.ExecContext(ctx, query,
			slot.ID, slot.Date, slot.StartTime, slot.EndTime, slot.Capacity, slot.IsActive, now, now,
		); err != nil {
			return fmt.Errorf("failed to seed slot %s: %w", slot.ID, err)
		}
	}
	return nil
}

func (db *DB) GetSlot(ctx context.Context, q Querier, id string) (*models.Slot, error) {
	var slot models.Slot
	query := `SELECT id, date, start_time, end_time, capacity, booked_count, is_active, created_at, updated_at
	          FROM slots WHERE id = ?`
	err := q.QueryRowContext(ctx, query, id).Scan(
		&slot.ID, &slot.Date, &slot.StartTime, &slot.EndTime,
		&slot.Capacity, &slot.BookedCount, &slot.IsActive,
		&slot.CreatedAt, &slot.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

func (db *DB) ListSlotsByDate(ctx context.Context, date string) ([]*models.Slot, error) {
	query := `SELECT id, date, start_time, end_time, capacity, booked_count, is_active, created_at, updated_at
	          FROM slots WHERE date = ? ORDER BY start_time`
	return db.querySlots(ctx, query, date)
}

func (db *DB) ListSlotsByDateRange(ctx context.Context, startDate, endDate string) ([]*models.Slot, error) {
	query := `SELECT id, date, start_time, end_time, capacity, booked_count, is_active, created_at, updated_at
	          FROM slots WHERE date >= ? AND date <= ? ORDER BY date, start_time`
	return db.querySlots(ctx, query, startDate, endDate)
}

func (db *DB) querySlots(ctx context.Context, query string, args ...any) ([]*models.Slot, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	var slots []*models.Slot
	for rows.Next() {
		s := &models.Slot{}
		err := rows.Scan(
			&s.ID, &s.Date, &s.StartTime, &s.EndTime,
			&s.Capacity, &s.BookedCount, &s.IsActive,
			&s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (db *DB) SetSlotActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE slots SET is_active = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set slot active: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// DeleteSlot removes a slot only while nothing is booked against it.
func (db *DB) DeleteSlot(ctx context.Context, id string) error {
	query := `DELETE FROM slots WHERE id = ? AND booked_count = 0`
	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetSlot(ctx, db, id); errors.Is(err, ErrSlotNotFound) {
			return ErrSlotNotFound
		}
		return ErrSlotNotEmpty
	}
	return nil
}
