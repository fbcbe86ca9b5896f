package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"darshan/internal/models"
)

func (db *DB) InsertBooking(ctx context.Context, q Querier, booking *models.Booking) error {
	query := `INSERT INTO bookings (
				id, slot_id, name, phone, email, number_of_people,
				status, token, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		booking.ID,
		booking.SlotID,
		booking.Name,
		booking.Phone,
		booking.Email,
		booking.NumberOfPeople,
		booking.Status,
		booking.Token,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	booking.CreatedAt = now
	booking.UpdatedAt = now
	return nil
}

func (db *DB) SetBookingToken(ctx context.Context, q Querier, id, token string) error {
	query := `UPDATE bookings SET token = ?, updated_at = ? WHERE id = ?`
	_, err := q.ExecContext(ctx, query, token, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set booking token: %w", err)
	}
	return nil
}

func (db *DB) GetBooking(ctx context.Context, q Querier, id string) (*models.Booking, error) {
	var booking models.Booking
	var checkedInAt sql.NullTime
	query := `SELECT id, slot_id, name, phone, email, number_of_people,
	                 status, token, checked_in_at, created_at, updated_at
	          FROM bookings WHERE id = ?`
	err := q.QueryRowContext(ctx, query, id).Scan(
		&booking.ID, &booking.SlotID, &booking.Name, &booking.Phone, &booking.Email,
		&booking.NumberOfPeople, &booking.Status, &booking.Token,
		&checkedInAt, &booking.CreatedAt, &booking.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if checkedInAt.Valid {
		booking.CheckedInAt = &checkedInAt.Time
	}
	return &booking, nil
}

// CountActiveContactBookings returns how many non-cancelled bookings already
// exist on the slot with the same phone or email. Empty contact values never
// match each other: two email-only visitors share an empty phone.
func (db *DB) CountActiveContactBookings(ctx context.Context, q Querier, slotID, phone, email string) (int, error) {
	query := `SELECT COUNT(*) FROM bookings
	          WHERE slot_id = ? AND status != ?
	            AND ((phone != '' AND phone = ?) OR (email != '' AND email = ?))`
	var count int
	err := q.QueryRowContext(ctx, query, slotID, models.StatusCancelled, phone, email).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count contact bookings: %w", err)
	}
	return count, nil
}

// TransitionBookingStatus moves a booking from one status to another in a
// single conditional update. Returns false when the booking was not in the
// expected prior status, so concurrent transitions race safely: exactly one
// caller wins.
func (db *DB) TransitionBookingStatus(ctx context.Context, q Querier, id, from, to string, checkedInAt *time.Time) (bool, error) {
	var result sql.Result
	var err error
	if checkedInAt != nil {
		query := `UPDATE bookings SET status = ?, checked_in_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		result, err = q.ExecContext(ctx, query, to, *checkedInAt, time.Now(), id, from)
	} else {
		query := `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
		result, err = q.ExecContext(ctx, query, to, time.Now(), id, from)
	}
	if err != nil {
		return false, fmt.Errorf("failed to transition booking status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetBookingsByContact returns bookings for a phone or email, most recent
// slot first.
func (db *DB) GetBookingsByContact(ctx context.Context, field, value string) ([]*models.Booking, error) {
	if field != "phone" && field != "email" {
		return nil, fmt.Errorf("unsupported contact field: %s", field)
	}
	query := fmt.Sprintf(`SELECT b.id, b.slot_id, b.name, b.phone, b.email, b.number_of_people,
	                 b.status, b.token, b.checked_in_at, b.created_at, b.updated_at
	          FROM bookings b JOIN slots s ON s.id = b.slot_id
	          WHERE b.%s = ?
	          ORDER BY s.date DESC, s.start_time DESC`, field)
	return db.queryBookings(ctx, query, value)
}

func (db *DB) ListBookingsBySlot(ctx context.Context, slotID string) ([]*models.Booking, error) {
	query := `SELECT id, slot_id, name, phone, email, number_of_people,
	                 status, token, checked_in_at, created_at, updated_at
	          FROM bookings WHERE slot_id = ? ORDER BY created_at`
	return db.queryBookings(ctx, query, slotID)
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b := &models.Booking{}
		var checkedInAt sql.NullTime
		err := rows.Scan(
			&b.ID, &b.SlotID, &b.Name, &b.Phone, &b.Email,
			&b.NumberOfPeople, &b.Status, &b.Token,
			&checkedInAt, &b.CreatedAt, &b.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		if checkedInAt.Valid {
			b.CheckedInAt = &checkedInAt.Time
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
