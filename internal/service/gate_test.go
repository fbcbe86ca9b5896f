package service

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"darshan/internal/models"
	"darshan/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateFixture(t *testing.T) (*fixture, *models.Booking) {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()
	f.seedSlot(t, "s1", "2026-09-01", "09:00", 10)

	now := time.Date(2026, 9, 1, 6, 0, 0, 0, f.loc)
	f.booking.now = func() time.Time { return now }
	f.gate.now = func() time.Time { return now }

	booking, err := f.booking.CreateBooking(ctx, validRequest("s1"))
	require.NoError(t, err)
	return f, booking
}

func TestCheckInHappyPath(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	decision := f.gate.CheckIn(ctx, booking.Token)
	require.True(t, decision.Accepted)
	assert.Equal(t, models.ReasonAccepted, decision.Reason)
	require.NotNil(t, decision.Booking)
	assert.Equal(t, models.StatusCheckedIn, decision.Booking.Status)
	require.NotNil(t, decision.CheckedInAt)

	stored, err := f.db.GetBooking(ctx, f.db, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, stored.Status)
	assert.NotNil(t, stored.CheckedInAt)
}

func TestCheckInSecondScanRejected(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	first := f.gate.CheckIn(ctx, booking.Token)
	require.True(t, first.Accepted)

	second := f.gate.CheckIn(ctx, booking.Token)
	assert.False(t, second.Accepted)
	assert.Equal(t, models.ReasonAlreadyUsed, second.Reason)
	assert.NotNil(t, second.CheckedInAt)
}

func TestVerifyDoesNotConsume(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision := f.gate.Verify(ctx, booking.Token)
		require.True(t, decision.Accepted, "verify %d", i)
	}

	stored, err := f.db.GetBooking(ctx, f.db, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)
}

func TestCheckInGarbageToken(t *testing.T) {
	f, _ := gateFixture(t)

	for _, tok := range []string{"", "garbage", base64.StdEncoding.EncodeToString([]byte("{}"))} {
		decision := f.gate.CheckIn(context.Background(), tok)
		assert.False(t, decision.Accepted)
		assert.Equal(t, models.ReasonTokenInvalid, decision.Reason, "token %q", tok)
	}
}

func TestCheckInTamperedToken(t *testing.T) {
	f, booking := gateFixture(t)

	raw, err := base64.StdEncoding.DecodeString(booking.Token)
	require.NoError(t, err)

	// flip a byte inside the signed payload
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)/2] ^= 0x01
	decision := f.gate.CheckIn(context.Background(), base64.StdEncoding.EncodeToString(tampered))
	assert.False(t, decision.Accepted)
	assert.Equal(t, models.ReasonTokenInvalid, decision.Reason)
}

func TestCheckInCancelledBooking(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	_, err := f.booking.CancelBooking(ctx, booking.ID)
	require.NoError(t, err)

	decision := f.gate.CheckIn(ctx, booking.Token)
	assert.False(t, decision.Accepted)
	assert.Equal(t, models.ReasonBookingCancelled, decision.Reason)
}

func TestCheckInUnknownBooking(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	// mint a token for a booking that never existed
	tokenForGhost, err := f.codec.Encode(token.Fields{
		BookingID:      "ghost-id",
		SlotID:         booking.SlotID,
		Name:           booking.Name,
		Date:           "2026-09-01",
		SlotTime:       "09:00-23:59",
		NumberOfPeople: booking.NumberOfPeople,
	})
	require.NoError(t, err)

	decision := f.gate.CheckIn(ctx, tokenForGhost)
	assert.False(t, decision.Accepted)
	assert.Equal(t, models.ReasonBookingNotFound, decision.Reason)
}

func TestCheckInWrongDate(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	// gate clock on the day after the slot
	f.gate.now = func() time.Time {
		return time.Date(2026, 9, 2, 9, 0, 0, 0, f.loc)
	}

	decision := f.gate.CheckIn(ctx, booking.Token)
	assert.False(t, decision.Accepted)
	assert.Equal(t, models.ReasonWrongDate, decision.Reason)

	// в правильный день токен принимается
	f.gate.now = func() time.Time {
		return time.Date(2026, 9, 1, 9, 0, 0, 0, f.loc)
	}
	decision = f.gate.CheckIn(ctx, booking.Token)
	assert.True(t, decision.Accepted)
}

func TestCheckInRescheduledSlot(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	// slot moved to the evening after the token was minted
	_, err := f.db.ExecContext(ctx,
		`UPDATE slots SET start_time = '18:00', end_time = '19:00' WHERE id = 's1'`)
	require.NoError(t, err)

	decision := f.gate.CheckIn(ctx, booking.Token)
	assert.False(t, decision.Accepted)
	assert.Equal(t, models.ReasonSlotMismatch, decision.Reason)

	stored, err := f.db.GetBooking(ctx, f.db, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)
}

func TestCheckInSlotMovedToAnotherDay(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	_, err := f.db.ExecContext(ctx, `UPDATE slots SET date = '2026-09-03' WHERE id = 's1'`)
	require.NoError(t, err)

	decision := f.gate.CheckIn(ctx, booking.Token)
	assert.False(t, decision.Accepted)
	assert.Equal(t, models.ReasonSlotMismatch, decision.Reason)
}

func TestConcurrentCheckInSingleWinner(t *testing.T) {
	f, booking := gateFixture(t)
	ctx := context.Background()

	const scanners = 10
	var wg sync.WaitGroup
	decisions := make([]*models.CheckinDecision, scanners)

	for i := 0; i < scanners; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			decisions[i] = f.gate.CheckIn(ctx, booking.Token)
		}()
	}
	wg.Wait()

	winners := 0
	for _, d := range decisions {
		if d.Accepted {
			winners++
		} else {
			assert.Equal(t, models.ReasonAlreadyUsed, d.Reason)
		}
	}
	assert.Equal(t, 1, winners)
}
