// Package ledger owns slot capacity accounting. It is the only component
// allowed to change a slot's booked_count, and every mutation is a single
// conditional UPDATE so concurrent callers can never push a slot past its
// capacity or below zero.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"darshan/internal/database"

	"github.com/rs/zerolog"
)

var (
	ErrSlotInactive         = errors.New("slot is not accepting reservations")
	ErrCapacityExceeded     = errors.New("slot capacity exceeded")
	ErrBelowCurrentBookings = errors.New("capacity below current bookings")

	// ErrLedgerUnderflow means a release would take booked_count negative.
	// That is a bug in the caller, not user input, and is never clamped.
	ErrLedgerUnderflow = errors.New("ledger underflow: release exceeds booked count")
)

type CapacityLedger struct {
	logger *zerolog.Logger
}

func NewCapacityLedger(logger *zerolog.Logger) *CapacityLedger {
	return &CapacityLedger{logger: logger}
}

// Reserve books units against the slot. The check and increment are one
// statement scoped to the caller's transaction; if the caller rolls back,
// the reservation rolls back with it.
func (l *CapacityLedger) Reserve(ctx context.Context, q database.Querier, slotID string, units int64) error {
	if units <= 0 {
		return fmt.Errorf("reserve units must be positive, got %d", units)
	}

	query := `UPDATE slots SET booked_count = booked_count + ?, updated_at = ?
	          WHERE id = ? AND is_active = 1 AND booked_count + ? <= capacity`
	result, err := q.ExecContext(ctx, query, units, time.Now(), slotID, units)
	if err != nil {
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	return l.classifyReserveFailure(ctx, q, slotID, units)
}

func (l *CapacityLedger) classifyReserveFailure(ctx context.Context, q database.Querier, slotID string, units int64) error {
	var isActive bool
	var booked, capacity int64
	query := `SELECT is_active, booked_count, capacity FROM slots WHERE id = ?`
	err := q.QueryRowContext(ctx, query, slotID).Scan(&isActive, &booked, &capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrSlotNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect slot: %w", err)
	}
	if !isActive {
		return ErrSlotInactive
	}
	l.logger.Debug().
		Str("slot_id", slotID).
		Int64("requested", units).
		Int64("booked", booked).
		Int64("capacity", capacity).
		Msg("reservation rejected, slot full")
	return ErrCapacityExceeded
}

// Release returns units to the slot. Releasing more than is booked is
// rejected so caller bugs surface instead of silently clamping at zero.
func (l *CapacityLedger) Release(ctx context.Context, q database.Querier, slotID string, units int64) error {
	if units <= 0 {
		return fmt.Errorf("release units must be positive, got %d", units)
	}

	query := `UPDATE slots SET booked_count = booked_count - ?, updated_at = ?
	          WHERE id = ? AND booked_count >= ?`
	result, err := q.ExecContext(ctx, query, units, time.Now(), slotID, units)
	if err != nil {
		return fmt.Errorf("failed to release capacity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM slots WHERE id = ?`, slotID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to inspect slot: %w", err)
	}
	if exists == 0 {
		return database.ErrSlotNotFound
	}
	l.logger.Error().Str("slot_id", slotID).Int64("units", units).Msg("ledger underflow detected")
	return ErrLedgerUnderflow
}

// SetCapacity changes a slot's capacity but never under what is already
// booked.
func (l *CapacityLedger) SetCapacity(ctx context.Context, q database.Querier, slotID string, newCapacity int64) error {
	if newCapacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", newCapacity)
	}

	query := `UPDATE slots SET capacity = ?, updated_at = ?
	          WHERE id = ? AND booked_count <= ?`
	result, err := q.ExecContext(ctx, query, newCapacity, time.Now(), slotID, newCapacity)
	if err != nil {
		return fmt.Errorf("failed to set capacity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM slots WHERE id = ?`, slotID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to inspect slot: %w", err)
	}
	if exists == 0 {
		return database.ErrSlotNotFound
	}
	return ErrBelowCurrentBookings
}
