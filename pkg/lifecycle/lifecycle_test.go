package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/marketplace/pkg/lock"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"

	_ "modernc.org/sqlite"
)

var (
	alice = market.Actor{ID: "alice", Type: market.UserCustomer}
	bob   = market.Actor{ID: "bob", Type: market.UserCustomer}
	pat   = market.Actor{ID: "pat", Type: market.UserProvider}
	quinn = market.Actor{ID: "quinn", Type: market.UserProvider}
)

type fixture struct {
	engine *Engine
	store  store.Store
	locks  *lock.MemoryLocker
	now    time.Time
	mu     sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, s store.Store, opts ...operation.Option) *fixture {
	t.Helper()
	var seq int64
	f := &fixture{
		store: s,
		locks: lock.NewMemoryLocker(),
		// Thursday
		now: time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC),
	}
	f.engine = New(s, f.locks, operation.NewRunner(opts...),
		WithClock(f.clock),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&seq, 1)) }),
	)
	return f
}

func newSQLite(t *testing.T) store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	s := store.NewSQLStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seedProvider gives pat an active handyman offering at $45/h and Monday
// 09:00-17:00 availability.
func (f *fixture) seedProvider(t *testing.T) *market.ServiceOffering {
	t.Helper()
	ctx := context.Background()
	off := &market.ServiceOffering{ID: "off-pat", ProviderID: pat.ID, ServiceID: "handyman", HourlyRate: 4500, IsActive: true}
	require.NoError(t, f.store.CreateOffering(ctx, off))
	require.NoError(t, f.store.CreateSlot(ctx, &market.AvailabilitySlot{
		ID: "slot-mon", ProviderID: pat.ID, DayOfWeek: time.Monday,
		StartTime: market.Clock(9, 0), EndTime: market.Clock(17, 0), IsAvailable: true,
	}))
	return off
}

func int64p(v int64) *int64 { return &v }

func TestTaskLifecycleHappyPath(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()

	task, err := f.engine.PostTask(ctx, alice, PostTaskInput{
		Title: "  Assemble IKEA furniture ", CategoryID: "assembly", BudgetMax: int64p(8000),
	})
	require.NoError(t, err)
	assert.Equal(t, "Assemble IKEA furniture", task.Title)
	assert.Equal(t, market.TaskOpen, task.Status)
	assert.Equal(t, market.PricingFixed, task.PricingType)

	a1, err := f.engine.ApplyToTask(ctx, pat, task.ID, "I have the tools")
	require.NoError(t, err)
	a2, err := f.engine.ApplyToTask(ctx, quinn, task.ID, "")
	require.NoError(t, err)

	assigned, err := f.engine.AssignProvider(ctx, alice, task.ID, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, market.TaskAssigned, assigned.Status)
	assert.Equal(t, pat.ID, assigned.AssignedProviderID)

	apps, err := f.engine.ListApplications(ctx, alice, task.ID)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	status := map[string]market.ApplicationStatus{}
	for _, a := range apps {
		status[a.ID] = a.Status
	}
	assert.Equal(t, market.ApplicationAccepted, status[a1.ID])
	assert.Equal(t, market.ApplicationClosed, status[a2.ID], "non-selected applications are closed, not deleted")

	started, err := f.engine.StartTask(ctx, pat, task.ID)
	require.NoError(t, err)
	assert.Equal(t, market.TaskInProgress, started.Status)

	done, err := f.engine.CompleteTask(ctx, alice, task.ID)
	require.NoError(t, err)
	assert.Equal(t, market.TaskCompleted, done.Status)

	mine, err := f.engine.ProviderTasks(ctx, pat)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, task.ID, mine[0].ID)
}

func TestTaskGuards(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()

	_, err := f.engine.PostTask(ctx, pat, PostTaskInput{Title: "x"})
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	_, err = f.engine.PostTask(ctx, alice, PostTaskInput{Title: " "})
	assert.True(t, errors.Is(err, market.ErrInvalidInput))

	_, err = f.engine.PostTask(ctx, alice, PostTaskInput{Title: "x", BudgetMin: int64p(9000), BudgetMax: int64p(100)})
	assert.True(t, errors.Is(err, market.ErrInvalidInput))

	task, err := f.engine.PostTask(ctx, alice, PostTaskInput{Title: "Paint bedroom"})
	require.NoError(t, err)

	_, err = f.engine.CompleteTask(ctx, alice, task.ID)
	assert.True(t, errors.Is(err, market.ErrInvalidTransition), "open -> completed is not an edge")

	_, err = f.engine.CancelTask(ctx, bob, task.ID)
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	_, err = f.engine.StartTask(ctx, pat, task.ID)
	assert.True(t, errors.Is(err, market.ErrNotOwner), "unassigned provider cannot start")

	_, err = f.engine.ApplyToTask(ctx, pat, task.ID, "")
	require.NoError(t, err)
	_, err = f.engine.ApplyToTask(ctx, pat, task.ID, "again")
	assert.True(t, errors.Is(err, market.ErrDuplicate))

	_, err = f.engine.ApplyToTask(ctx, alice, task.ID, "")
	assert.True(t, errors.Is(err, market.ErrNotOwner), "customers do not apply")

	_, err = f.engine.ListApplications(ctx, bob, task.ID)
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	visible, err := f.engine.ListApplications(ctx, quinn, task.ID)
	require.NoError(t, err)
	assert.Empty(t, visible, "providers only see their own applications")

	cancelled, err := f.engine.CancelTask(ctx, alice, task.ID)
	require.NoError(t, err)
	assert.Equal(t, market.TaskCancelled, cancelled.Status)

	apps, err := f.engine.ListApplications(ctx, alice, task.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, market.ApplicationClosed, apps[0].Status)

	_, err = f.engine.ApplyToTask(ctx, quinn, task.ID, "")
	assert.True(t, errors.Is(err, market.ErrInvalidTransition))

	_, err = f.engine.CancelTask(ctx, alice, task.ID)
	assert.True(t, errors.Is(err, market.ErrInvalidTransition), "cancelled is terminal")

	_, err = f.engine.GetTask(ctx, alice, "nope")
	assert.True(t, errors.Is(err, market.ErrNotFound))
}

func TestPostTaskCategoryAllowList(t *testing.T) {
	s := store.NewMemoryStore()
	e := New(s, lock.NewMemoryLocker(), operation.NewRunner(), WithCategories([]string{"cleaning"}))
	_, err := e.PostTask(context.Background(), alice, PostTaskInput{Title: "x", CategoryID: "rocketry"})
	assert.True(t, errors.Is(err, market.ErrInvalidInput))
	_, err = e.PostTask(context.Background(), alice, PostTaskInput{Title: "x", CategoryID: "cleaning"})
	assert.NoError(t, err)
}

func TestConcurrentAssignExactlyOneWins(t *testing.T) {
	stores := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return store.NewMemoryStore() },
		"sqlite": newSQLite,
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk(t))
			ctx := context.Background()

			task, err := f.engine.PostTask(ctx, alice, PostTaskInput{Title: "Fix fence"})
			require.NoError(t, err)
			a1, err := f.engine.ApplyToTask(ctx, pat, task.ID, "")
			require.NoError(t, err)
			a2, err := f.engine.ApplyToTask(ctx, quinn, task.ID, "")
			require.NoError(t, err)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i, appID := range []string{a1.ID, a2.ID} {
				wg.Add(1)
				go func(i int, appID string) {
					defer wg.Done()
					_, errs[i] = f.engine.AssignProvider(ctx, alice, task.ID, appID)
				}(i, appID)
			}
			wg.Wait()

			wins := 0
			for _, err := range errs {
				if err == nil {
					wins++
					continue
				}
				k := market.KindOf(err)
				assert.True(t, k == market.KindConflict || k == market.KindInvalidTransition, "unexpected %v", err)
			}
			assert.Equal(t, 1, wins)

			got, err := f.engine.GetTask(ctx, alice, task.ID)
			require.NoError(t, err)
			assert.Equal(t, market.TaskAssigned, got.Status)

			apps, err := f.engine.ListApplications(ctx, alice, task.ID)
			require.NoError(t, err)
			accepted := 0
			for _, a := range apps {
				if a.Status == market.ApplicationAccepted {
					accepted++
					assert.Equal(t, got.AssignedProviderID, a.ProviderID)
				}
			}
			assert.Equal(t, 1, accepted)
		})
	}
}

func TestCreateBookingPricesAndGuards(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	off := f.seedProvider(t)
	ctx := context.Background()
	monday := market.MustDate("2026-10-19")

	in := CreateBookingInput{
		OfferingID: off.ID, Date: monday,
		StartTime: market.Clock(9, 0), EndTime: market.Clock(10, 30), Location: "12 Elm St",
	}
	b, err := f.engine.CreateBooking(ctx, alice, in)
	require.NoError(t, err)
	assert.Equal(t, market.BookingPending, b.Status)
	assert.Equal(t, int64(6750), b.TotalAmount, "1.5h at $45")
	assert.Equal(t, "handyman", b.ServiceID)
	assert.Equal(t, pat.ID, b.ProviderID)

	overlapping := in
	overlapping.StartTime, overlapping.EndTime = market.Clock(10, 0), market.Clock(11, 0)
	_, err = f.engine.CreateBooking(ctx, bob, overlapping)
	assert.True(t, errors.Is(err, market.ErrOverlap), "got %v", err)

	adjacent := in
	adjacent.StartTime, adjacent.EndTime = market.Clock(10, 30), market.Clock(11, 0)
	_, err = f.engine.CreateBooking(ctx, bob, adjacent)
	assert.NoError(t, err, "half-open windows that touch do not overlap")

	outside := in
	outside.StartTime, outside.EndTime = market.Clock(16, 0), market.Clock(18, 0)
	_, err = f.engine.CreateBooking(ctx, alice, outside)
	assert.True(t, errors.Is(err, market.ErrInvalidInput))

	tuesday := in
	tuesday.Date = monday.AddDays(1)
	_, err = f.engine.CreateBooking(ctx, alice, tuesday)
	assert.True(t, errors.Is(err, market.ErrInvalidInput), "no availability on Tuesday")

	past := in
	past.Date = market.MustDate("2026-10-12")
	_, err = f.engine.CreateBooking(ctx, alice, past)
	assert.True(t, errors.Is(err, market.ErrInvalidInput))

	inverted := in
	inverted.StartTime, inverted.EndTime = market.Clock(12, 0), market.Clock(11, 0)
	_, err = f.engine.CreateBooking(ctx, alice, inverted)
	assert.True(t, errors.Is(err, market.ErrInvalidInput))

	_, err = f.engine.CreateBooking(ctx, pat, in)
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	fixed := in
	fixed.StartTime, fixed.EndTime = market.Clock(13, 0), market.Clock(14, 0)
	fixed.PricingType = market.PricingFixed
	_, err = f.engine.CreateBooking(ctx, alice, fixed)
	assert.True(t, errors.Is(err, market.ErrInvalidRate), "fixed booking needs a price")
	fixed.AgreedPrice = 12000
	fb, err := f.engine.CreateBooking(ctx, alice, fixed)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), fb.TotalAmount)

	o, _ := f.store.GetOffering(ctx, off.ID)
	o.IsActive = false
	require.NoError(t, f.store.UpdateOffering(ctx, o))
	later := in
	later.StartTime, later.EndTime = market.Clock(15, 0), market.Clock(16, 0)
	_, err = f.engine.CreateBooking(ctx, alice, later)
	assert.True(t, errors.Is(err, market.ErrInvalidInput), "inactive offerings cannot be booked")
}

func TestBookingFromAssignedTask(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	off := f.seedProvider(t)
	ctx := context.Background()

	task, err := f.engine.PostTask(ctx, alice, PostTaskInput{Title: "Mount TV", BudgetMin: int64p(6000)})
	require.NoError(t, err)
	in := CreateBookingInput{
		OfferingID: off.ID, TaskID: task.ID, Date: market.MustDate("2026-10-19"),
		StartTime: market.Clock(9, 0), EndTime: market.Clock(11, 0), PricingType: market.PricingFixed,
	}

	_, err = f.engine.CreateBooking(ctx, alice, in)
	assert.True(t, errors.Is(err, market.ErrInvalidTransition), "task not yet assigned")

	app, err := f.engine.ApplyToTask(ctx, pat, task.ID, "")
	require.NoError(t, err)
	_, err = f.engine.AssignProvider(ctx, alice, task.ID, app.ID)
	require.NoError(t, err)

	_, err = f.engine.CreateBooking(ctx, bob, in)
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	b, err := f.engine.CreateBooking(ctx, alice, in)
	require.NoError(t, err)
	assert.Equal(t, task.ID, b.TaskID)
	assert.Equal(t, int64(6000), b.TotalAmount, "fixed price falls back to the task budget")
}

func TestBookingTransitions(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	off := f.seedProvider(t)
	ctx := context.Background()

	b, err := f.engine.CreateBooking(ctx, alice, CreateBookingInput{
		OfferingID: off.ID, Date: market.MustDate("2026-10-19"),
		StartTime: market.Clock(9, 0), EndTime: market.Clock(10, 0),
	})
	require.NoError(t, err)

	_, err = f.engine.AcceptBooking(ctx, alice, b.ID)
	assert.True(t, errors.Is(err, market.ErrNotOwner), "only the provider accepts")

	_, err = f.engine.CompleteBooking(ctx, alice, b.ID)
	assert.True(t, errors.Is(err, market.ErrInvalidTransition))

	confirmed, err := f.engine.AcceptBooking(ctx, pat, b.ID)
	require.NoError(t, err)
	assert.Equal(t, market.BookingConfirmed, confirmed.Status)

	_, err = f.engine.CompleteBooking(ctx, pat, b.ID)
	assert.True(t, errors.Is(err, market.ErrInvalidTransition), "cannot complete before the booking date")

	_, err = f.engine.GetBooking(ctx, bob, b.ID)
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	f.advance(4 * 24 * time.Hour) // Monday 2026-10-19
	done, err := f.engine.CompleteBooking(ctx, pat, b.ID)
	require.NoError(t, err)
	assert.Equal(t, market.BookingCompleted, done.Status)

	_, err = f.engine.CancelBooking(ctx, alice, b.ID, "changed my mind")
	assert.True(t, errors.Is(err, market.ErrInvalidTransition), "completed is terminal")
}

func TestCancelBookingByEitherParty(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	off := f.seedProvider(t)
	ctx := context.Background()
	mk := func(start int) *market.Booking {
		b, err := f.engine.CreateBooking(ctx, alice, CreateBookingInput{
			OfferingID: off.ID, Date: market.MustDate("2026-10-19"),
			StartTime: market.Clock(start, 0), EndTime: market.Clock(start+1, 0),
		})
		require.NoError(t, err)
		return b
	}

	b1 := mk(9)
	got, err := f.engine.CancelBooking(ctx, alice, b1.ID, "rain")
	require.NoError(t, err)
	assert.Equal(t, market.BookingCancelled, got.Status)
	assert.Equal(t, "rain", got.CancelReason)

	b2 := mk(9) // window is free again once b1 is cancelled
	_, err = f.engine.AcceptBooking(ctx, pat, b2.ID)
	require.NoError(t, err)
	_, err = f.engine.CancelBooking(ctx, pat, b2.ID, "sick")
	require.NoError(t, err)

	_, err = f.engine.CancelBooking(ctx, bob, mk(11).ID, "")
	assert.True(t, errors.Is(err, market.ErrNotOwner))
}

func TestDashboards(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	seed := []market.Booking{
		{ID: "b1", Status: market.BookingConfirmed, BookingDate: market.MustDate("2026-10-20"), TotalAmount: 1000},
		{ID: "b2", Status: market.BookingCompleted, BookingDate: market.MustDate("2026-10-01"), TotalAmount: 4500},
		{ID: "b3", Status: market.BookingCompleted, BookingDate: market.MustDate("2026-10-08"), TotalAmount: 3000},
		{ID: "b4", Status: market.BookingCancelled, BookingDate: market.MustDate("2026-10-30"), TotalAmount: 9999},
		{ID: "b5", Status: market.BookingPending, BookingDate: market.MustDate("2026-10-15"), TotalAmount: 500},
	}
	for i := range seed {
		seed[i].CustomerID, seed[i].ProviderID = alice.ID, pat.ID
		seed[i].StartTime, seed[i].EndTime = market.Clock(9, 0), market.Clock(10, 0)
		require.NoError(t, f.store.CreateBooking(ctx, &seed[i]))
	}
	require.NoError(t, f.store.CreateBooking(ctx, &market.Booking{
		ID: "other", CustomerID: bob.ID, ProviderID: quinn.ID, Status: market.BookingCompleted,
		BookingDate: market.MustDate("2026-10-01"), TotalAmount: 7777,
	}))

	cd, err := f.engine.CustomerDashboard(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, cd.Upcoming, 2, "b1 and b5 (today counts as upcoming)")
	assert.Len(t, cd.Past, 3)
	assert.Equal(t, 2, cd.CompletedCount)
	assert.Equal(t, int64(7500), cd.TotalSpent)

	pd, err := f.engine.ProviderDashboard(ctx, pat)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), pd.TotalEarnings)
	assert.Len(t, append(pd.Upcoming, pd.Past...), len(seed))

	_, err = f.engine.ProviderDashboard(ctx, alice)
	assert.True(t, errors.Is(err, market.ErrNotOwner))
}

func TestExpireStalePending(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	for _, b := range []*market.Booking{
		{ID: "stale", Status: market.BookingPending, BookingDate: market.MustDate("2026-10-14")},
		{ID: "today", Status: market.BookingPending, BookingDate: market.MustDate("2026-10-15")},
		{ID: "confirmed-past", Status: market.BookingConfirmed, BookingDate: market.MustDate("2026-10-01")},
	} {
		b.CustomerID, b.ProviderID = alice.ID, pat.ID
		require.NoError(t, f.store.CreateBooking(ctx, b))
	}

	n, err := f.engine.ExpireStalePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, _ := f.store.GetBooking(ctx, "stale")
	assert.Equal(t, market.BookingCancelled, stale.Status)
	assert.Contains(t, stale.CancelReason, "expired")
	today, _ := f.store.GetBooking(ctx, "today")
	assert.Equal(t, market.BookingPending, today.Status)
	confirmed, _ := f.store.GetBooking(ctx, "confirmed-past")
	assert.Equal(t, market.BookingConfirmed, confirmed.Status)

	n, err = f.engine.ExpireStalePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "idempotent")
}

func TestCreateBookingTimesOutWaitingForSchedule(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), operation.WithTimeout(30*time.Millisecond))
	off := f.seedProvider(t)
	ctx := context.Background()

	unlock, err := f.locks.Lock(ctx, lock.ScheduleKey(pat.ID))
	require.NoError(t, err)
	defer unlock()

	_, err = f.engine.CreateBooking(ctx, alice, CreateBookingInput{
		OfferingID: off.ID, Date: market.MustDate("2026-10-19"),
		StartTime: market.Clock(9, 0), EndTime: market.Clock(10, 0),
	})
	assert.True(t, errors.Is(err, market.ErrTimeout), "got %v", err)

	bookings, err := f.store.ListBookings(ctx, store.BookingFilter{ProviderID: pat.ID})
	require.NoError(t, err)
	assert.Empty(t, bookings, "a timed out call leaves no partial write")
}
