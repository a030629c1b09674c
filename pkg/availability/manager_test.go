package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/marketplace/pkg/lock"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

var (
	pat   = market.Actor{ID: "pat", Type: market.UserProvider}
	quinn = market.Actor{ID: "quinn", Type: market.UserProvider}
	alice = market.Actor{ID: "alice", Type: market.UserCustomer}
)

var today = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC) // Thursday

func newManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	return New(s, lock.NewMemoryLocker(), operation.NewRunner(), WithClock(func() time.Time { return today })), s
}

func TestAddSlotRejectsOverlap(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	morning, err := m.AddSlot(ctx, pat, time.Monday, market.Clock(9, 0), market.Clock(12, 0))
	require.NoError(t, err)
	assert.True(t, morning.IsAvailable)

	_, err = m.AddSlot(ctx, pat, time.Monday, market.Clock(9, 0), market.Clock(12, 0))
	assert.True(t, errors.Is(err, market.ErrOverlap), "identical slot is rejected, not duplicated")

	_, err = m.AddSlot(ctx, pat, time.Monday, market.Clock(11, 0), market.Clock(13, 0))
	assert.True(t, errors.Is(err, market.ErrOverlap))

	_, err = m.AddSlot(ctx, pat, time.Monday, market.Clock(12, 0), market.Clock(14, 0))
	assert.NoError(t, err, "touching windows do not overlap")

	_, err = m.AddSlot(ctx, pat, time.Tuesday, market.Clock(9, 0), market.Clock(12, 0))
	assert.NoError(t, err, "other days are independent")

	_, err = m.AddSlot(ctx, quinn, time.Monday, market.Clock(9, 0), market.Clock(12, 0))
	assert.NoError(t, err, "other providers are independent")

	slots, err := m.SlotsFor(ctx, pat.ID, time.Monday)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, market.Clock(9, 0), slots[0].StartTime)
	assert.Equal(t, market.Clock(12, 0), slots[1].StartTime)
}

func TestAddSlotValidation(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, err := m.AddSlot(ctx, alice, time.Monday, market.Clock(9, 0), market.Clock(10, 0))
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	_, err = m.AddSlot(ctx, pat, time.Monday, market.Clock(10, 0), market.Clock(9, 0))
	assert.True(t, errors.Is(err, market.ErrInvalidInput))

	_, err = m.AddSlot(ctx, pat, time.Weekday(7), market.Clock(9, 0), market.Clock(10, 0))
	assert.True(t, errors.Is(err, market.ErrInvalidInput))

	_, err = m.SlotsFor(ctx, pat.ID, time.Weekday(-1))
	assert.True(t, errors.Is(err, market.ErrInvalidInput))
}

func TestUnavailableSlotDoesNotBlockAdd(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	s, err := m.AddSlot(ctx, pat, time.Friday, market.Clock(9, 0), market.Clock(17, 0))
	require.NoError(t, err)
	_, err = m.SetAvailable(ctx, pat, s.ID, false)
	require.NoError(t, err)

	replacement, err := m.AddSlot(ctx, pat, time.Friday, market.Clock(10, 0), market.Clock(12, 0))
	require.NoError(t, err)

	_, err = m.SetAvailable(ctx, pat, s.ID, true)
	assert.True(t, errors.Is(err, market.ErrOverlap), "re-enabling must keep available slots disjoint")

	_, err = m.SetAvailable(ctx, quinn, replacement.ID, false)
	assert.True(t, errors.Is(err, market.ErrNotOwner))
}

func seedBooking(t *testing.T, s store.Store, id string, status market.BookingStatus, date string, start, end int) {
	t.Helper()
	require.NoError(t, s.CreateBooking(context.Background(), &market.Booking{
		ID: id, CustomerID: alice.ID, ProviderID: pat.ID, Status: status,
		BookingDate: market.MustDate(date),
		StartTime:   market.Clock(start, 0), EndTime: market.Clock(end, 0),
	}))
}

func TestRemoveSlotGuardedByActiveBookings(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	busy, err := m.AddSlot(ctx, pat, time.Monday, market.Clock(9, 0), market.Clock(12, 0))
	require.NoError(t, err)
	quiet, err := m.AddSlot(ctx, pat, time.Wednesday, market.Clock(9, 0), market.Clock(12, 0))
	require.NoError(t, err)

	// 2026-10-19 is a Monday, 2026-10-21 a Wednesday.
	seedBooking(t, s, "b1", market.BookingConfirmed, "2026-10-19", 10, 11)
	seedBooking(t, s, "b2", market.BookingCancelled, "2026-10-21", 10, 11)

	err = m.RemoveSlot(ctx, pat, busy.ID)
	assert.True(t, errors.Is(err, market.ErrSlotInUse), "got %v", err)

	require.NoError(t, m.RemoveSlot(ctx, pat, quiet.ID), "cancelled bookings do not hold a slot")

	slots, err := m.WeeklySchedule(ctx, pat.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, busy.ID, slots[0].ID)

	kept, err := s.GetSlot(ctx, quiet.ID)
	require.NoError(t, err)
	assert.True(t, kept.Removed, "removed slots are flagged, not deleted")

	err = m.RemoveSlot(ctx, pat, quiet.ID)
	assert.True(t, errors.Is(err, market.ErrNotFound))

	err = m.RemoveSlot(ctx, quinn, busy.ID)
	assert.True(t, errors.Is(err, market.ErrNotOwner))
}

func TestRemoveSlotPendingBookingAlsoBlocks(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	slot, err := m.AddSlot(ctx, pat, time.Monday, market.Clock(9, 0), market.Clock(12, 0))
	require.NoError(t, err)
	seedBooking(t, s, "b1", market.BookingPending, "2026-10-26", 11, 12)

	err = m.RemoveSlot(ctx, pat, slot.ID)
	assert.True(t, errors.Is(err, market.ErrSlotInUse))
}

func TestRemoveSlotIgnoresPastBookings(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	slot, err := m.AddSlot(ctx, pat, time.Monday, market.Clock(9, 0), market.Clock(12, 0))
	require.NoError(t, err)
	// Mondays long past and just past; neither was ever completed.
	seedBooking(t, s, "old", market.BookingConfirmed, "2020-01-06", 10, 11)
	seedBooking(t, s, "last", market.BookingPending, "2026-10-12", 9, 10)

	require.NoError(t, m.RemoveSlot(ctx, pat, slot.ID))

	thursday, err := m.AddSlot(ctx, pat, time.Thursday, market.Clock(9, 0), market.Clock(12, 0))
	require.NoError(t, err)
	seedBooking(t, s, "now", market.BookingConfirmed, "2026-10-15", 9, 10)
	err = m.RemoveSlot(ctx, pat, thursday.ID)
	assert.True(t, errors.Is(err, market.ErrSlotInUse), "a booking today still holds the slot")
}

func TestBookableWindows(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	_, err := m.AddSlot(ctx, pat, time.Monday, market.Clock(9, 0), market.Clock(12, 0))
	require.NoError(t, err)
	_, err = m.AddSlot(ctx, pat, time.Monday, market.Clock(13, 0), market.Clock(15, 0))
	require.NoError(t, err)
	seedBooking(t, s, "b1", market.BookingPending, "2026-10-19", 10, 11)
	seedBooking(t, s, "b2", market.BookingCancelled, "2026-10-19", 13, 14)
	seedBooking(t, s, "b3", market.BookingConfirmed, "2026-10-26", 9, 12)

	got, err := m.BookableWindows(ctx, pat.ID, market.MustDate("2026-10-19"))
	require.NoError(t, err)
	assert.Equal(t, []market.Interval{
		{Start: market.Clock(9, 0), End: market.Clock(10, 0)},
		{Start: market.Clock(11, 0), End: market.Clock(12, 0)},
		{Start: market.Clock(13, 0), End: market.Clock(15, 0)},
	}, got)

	none, err := m.BookableWindows(ctx, pat.ID, market.MustDate("2026-10-20"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
