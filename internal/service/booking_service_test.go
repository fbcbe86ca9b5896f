package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"darshan/internal/config"
	"darshan/internal/database"
	"darshan/internal/events"
	"darshan/internal/ledger"
	"darshan/internal/models"
	"darshan/internal/token"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *database.DB
	ledger  *ledger.CapacityLedger
	codec   *token.Codec
	bus     *events.EventBus
	booking *BookingService
	gate    *CheckinGate
	slots   *SlotService
	loc     *time.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	capLedger := ledger.NewCapacityLedger(&logger)
	codec := token.NewCodec("test-secret", 0)
	bus := events.NewEventBus()

	cfg := config.BookingConfig{CancelCutoffHours: 2, MaxPartySize: 10, TxRetries: 3}
	booking := NewBookingService(db, capLedger, codec, bus, nil, nil, loc, cfg, &logger)
	gate := NewCheckinGate(db, codec, bus, loc, &logger)
	slots := NewSlotService(db, capLedger, nil, bus, &logger)

	return &fixture{
		db:      db,
		ledger:  capLedger,
		codec:   codec,
		bus:     bus,
		booking: booking,
		gate:    gate,
		slots:   slots,
		loc:     loc,
	}
}

func (f *fixture) seedSlot(t *testing.T, id, date, start string, capacity int64) {
	t.Helper()
	require.NoError(t, f.db.CreateSlot(context.Background(), &models.Slot{
		ID:        id,
		Date:      date,
		StartTime: start,
		EndTime:   "23:59",
		Capacity:  capacity,
		IsActive:  true,
	}))
}

func validRequest(slotID string) *models.BookingRequest {
	return &models.BookingRequest{
		SlotID:         slotID,
		Name:           "Asha",
		Phone:          "9876543210",
		Email:          "asha@example.com",
		NumberOfPeople: 2,
	}
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 10)

	booking, err := f.booking.CreateBooking(ctx, validRequest("s1"))
	require.NoError(t, err)

	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, models.StatusConfirmed, booking.Status)
	assert.NotEmpty(t, booking.Token)

	// токен расшифровывается и указывает на эту бронь
	fields, err := f.codec.Decode(booking.Token)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, fields.BookingID)
	assert.Equal(t, "s1", fields.SlotID)
	assert.Equal(t, "2026-09-01", fields.Date)
	assert.Equal(t, "09:00-23:59", fields.SlotTime)
	assert.Equal(t, int64(2), fields.NumberOfPeople)

	// ledger charged
	slot, err := f.db.GetSlot(ctx, f.db, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), slot.BookedCount)

	// persisted token matches returned token
	stored, err := f.db.GetBooking(ctx, f.db, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.Token, stored.Token)
}

func TestCreateBookingPartySizeBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 50)

	for _, n := range []int64{0, -1, 11} {
		req := validRequest("s1")
		req.NumberOfPeople = n
		_, err := f.booking.CreateBooking(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidParty, "people=%d", n)
	}

	req := validRequest("s1")
	req.NumberOfPeople = 10
	_, err := f.booking.CreateBooking(ctx, req)
	assert.NoError(t, err)
}

func TestCreateBookingUnknownSlot(t *testing.T) {
	f := newFixture(t)
	_, err := f.booking.CreateBooking(context.Background(), validRequest("missing"))
	assert.ErrorIs(t, err, database.ErrSlotNotFound)
}

func TestCreateBookingCapacityExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 3)

	_, err := f.booking.CreateBooking(ctx, validRequest("s1"))
	require.NoError(t, err)

	req := validRequest("s1")
	req.Phone = "9000000001"
	req.Email = "other@example.com"
	_, err = f.booking.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrCapacityExceeded)

	// rejected booking left no residue
	slot, err := f.db.GetSlot(ctx, f.db, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), slot.BookedCount)
}

func TestCreateBookingDuplicateContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 20)
	f.seedSlot(t, "s2", "2026-09-01", "11:00", 20)

	_, err := f.booking.CreateBooking(ctx, validRequest("s1"))
	require.NoError(t, err)

	t.Run("SamePhone", func(t *testing.T) {
		req := validRequest("s1")
		req.Email = "different@example.com"
		_, err := f.booking.CreateBooking(ctx, req)
		assert.ErrorIs(t, err, ErrDuplicateBooking)
	})

	t.Run("SameEmail", func(t *testing.T) {
		req := validRequest("s1")
		req.Phone = "9000000002"
		_, err := f.booking.CreateBooking(ctx, req)
		assert.ErrorIs(t, err, ErrDuplicateBooking)
	})

	t.Run("OtherSlotIsFine", func(t *testing.T) {
		_, err := f.booking.CreateBooking(ctx, validRequest("s2"))
		assert.NoError(t, err)
	})

	t.Run("DuplicateLeavesNoResidue", func(t *testing.T) {
		slot, err := f.db.GetSlot(ctx, f.db, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), slot.BookedCount)
	})
}

func TestCreateBookingEmailOnlyVisitorsAreDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 20)

	first := validRequest("s1")
	first.Phone = ""
	first.Email = "asha@example.com"
	_, err := f.booking.CreateBooking(ctx, first)
	require.NoError(t, err)

	// вторая бронь без телефона, но с другой почтой: это другой посетитель
	second := validRequest("s1")
	second.Phone = ""
	second.Email = "ravi@example.com"
	second.Name = "Ravi"
	_, err = f.booking.CreateBooking(ctx, second)
	require.NoError(t, err)

	same := validRequest("s1")
	same.Phone = ""
	same.Email = "asha@example.com"
	_, err = f.booking.CreateBooking(ctx, same)
	assert.ErrorIs(t, err, ErrDuplicateBooking)
}

func TestCreateBookingAfterCancelSameContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 10)

	f.booking.now = func() time.Time {
		return time.Date(2026, 9, 1, 5, 0, 0, 0, f.loc)
	}

	booking, err := f.booking.CreateBooking(ctx, validRequest("s1"))
	require.NoError(t, err)

	_, err = f.booking.CancelBooking(ctx, booking.ID)
	require.NoError(t, err)

	// cancelled bookings do not block a rebook
	_, err = f.booking.CreateBooking(ctx, validRequest("s1"))
	assert.NoError(t, err)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 10)

	// 06:00, slot at 09:00: three hours of margin
	f.booking.now = func() time.Time {
		return time.Date(2026, 9, 1, 6, 0, 0, 0, f.loc)
	}

	booking, err := f.booking.CreateBooking(ctx, validRequest("s1"))
	require.NoError(t, err)

	cancelled, err := f.booking.CancelBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	slot, err := f.db.GetSlot(ctx, f.db, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), slot.BookedCount)

	_, err = f.booking.CancelBooking(ctx, booking.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestCancelBookingCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 10)

	cases := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{"TwoHoursAndOneMinuteBefore", time.Date(2026, 9, 1, 6, 59, 0, 0, f.loc), nil},
		{"ExactlyTwoHoursBefore", time.Date(2026, 9, 1, 7, 0, 0, 0, f.loc), nil},
		{"NinetyMinutesBefore", time.Date(2026, 9, 1, 7, 30, 0, 0, f.loc), ErrPastCutoff},
		{"AfterSlotStart", time.Date(2026, 9, 1, 9, 30, 0, 0, f.loc), ErrPastCutoff},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.booking.now = func() time.Time { return time.Date(2026, 9, 1, 4, 0, 0, 0, f.loc) }
			req := validRequest("s1")
			req.Phone = "900000001" + string(rune('0'+i))
			req.Email = tc.name + "@example.com"
			booking, err := f.booking.CreateBooking(ctx, req)
			require.NoError(t, err)

			f.booking.now = func() time.Time { return tc.now }
			_, err = f.booking.CancelBooking(ctx, booking.ID)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCancelCheckedInBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 10)

	now := time.Date(2026, 9, 1, 6, 0, 0, 0, f.loc)
	f.booking.now = func() time.Time { return now }
	f.gate.now = func() time.Time { return now }

	booking, err := f.booking.CreateBooking(ctx, validRequest("s1"))
	require.NoError(t, err)

	decision := f.gate.CheckIn(ctx, booking.Token)
	require.True(t, decision.Accepted)

	_, err = f.booking.CancelBooking(ctx, booking.ID)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	// seats stay charged for checked-in visitors
	slot, err := f.db.GetSlot(ctx, f.db, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), slot.BookedCount)
}

func TestGetByContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 10)
	f.seedSlot(t, "s2", "2026-09-02", "10:00", 10)

	_, err := f.booking.CreateBooking(ctx, validRequest("s1"))
	require.NoError(t, err)
	_, err = f.booking.CreateBooking(ctx, validRequest("s2"))
	require.NoError(t, err)

	t.Run("ByPhone", func(t *testing.T) {
		got, err := f.booking.GetByContact(ctx, "9876543210")
		require.NoError(t, err)
		require.Len(t, got, 2)
		// most recent slot first
		assert.Equal(t, "s2", got[0].SlotID)
		assert.Equal(t, "s1", got[1].SlotID)
	})

	t.Run("ByEmail", func(t *testing.T) {
		got, err := f.booking.GetByContact(ctx, "asha@example.com")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("EmailNeverMatchesAsPhone", func(t *testing.T) {
		got, err := f.booking.GetByContact(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("InvalidContacts", func(t *testing.T) {
		for _, contact := range []string{"", "12345", "5876543210", "98765432101", "just-text"} {
			_, err := f.booking.GetByContact(ctx, contact)
			assert.ErrorIs(t, err, ErrInvalidContact, "contact %q", contact)
		}
	})
}

func TestConcurrentBookingsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 10)

	const workers = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &models.BookingRequest{
				SlotID:         "s1",
				Name:           "Visitor",
				Phone:          "98765000" + twoDigits(i),
				Email:          "v" + twoDigits(i) + "@example.com",
				NumberOfPeople: 2,
			}
			if _, err := f.booking.CreateBooking(ctx, req); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)

	slot, err := f.db.GetSlot(ctx, f.db, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), slot.BookedCount)
}

// TestFullSlotScenario walks a capacity-2 slot through fill, reject,
// cancel and rebook.
func TestFullSlotScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 2)
	f.booking.now = func() time.Time {
		return time.Date(2026, 9, 1, 5, 0, 0, 0, f.loc)
	}

	first, err := f.booking.CreateBooking(ctx, &models.BookingRequest{
		SlotID: "s1", Name: "A", Phone: "9000000001", Email: "a@example.com", NumberOfPeople: 1,
	})
	require.NoError(t, err)

	_, err = f.booking.CreateBooking(ctx, &models.BookingRequest{
		SlotID: "s1", Name: "B", Phone: "9000000002", Email: "b@example.com", NumberOfPeople: 1,
	})
	require.NoError(t, err)

	// full
	_, err = f.booking.CreateBooking(ctx, &models.BookingRequest{
		SlotID: "s1", Name: "C", Phone: "9000000003", Email: "c@example.com", NumberOfPeople: 1,
	})
	assert.ErrorIs(t, err, ledger.ErrCapacityExceeded)

	_, err = f.booking.CancelBooking(ctx, first.ID)
	require.NoError(t, err)

	// freed seat is bookable again
	_, err = f.booking.CreateBooking(ctx, &models.BookingRequest{
		SlotID: "s1", Name: "C", Phone: "9000000003", Email: "c@example.com", NumberOfPeople: 1,
	})
	assert.NoError(t, err)
}

func twoDigits(i int) string {
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}
