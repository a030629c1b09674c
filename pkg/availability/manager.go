// Package availability manages providers' weekly recurring slots. Slot
// mutations run under the provider's schedule lock, the same lock booking
// creation takes, so a slot cannot disappear between a booking's coverage
// check and its insert.
package availability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/marketplace/pkg/lock"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

type Manager struct {
	store  store.Store
	locks  lock.Locker
	run    *operation.Runner
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithIDGenerator(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func New(s store.Store, l lock.Locker, r *operation.Runner, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		locks:  l,
		run:    r,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "availability"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ValidateSlot checks the shape of a slot independent of any stored state.
func ValidateSlot(op string, day time.Weekday, w market.Interval) error {
	if !market.ValidWeekday(day) {
		return market.Errorf(market.KindInvalidInput, op, "day_of_week %d outside 0-6", int(day))
	}
	if !w.Valid() {
		return market.Errorf(market.KindInvalidInput, op, "invalid window %s", w)
	}
	return nil
}

// AddSlot adds an available slot for the acting provider. It fails with
// Overlap if the window intersects another available slot on that day.
func (m *Manager) AddSlot(ctx context.Context, actor market.Actor, day time.Weekday, start, end market.TimeOfDay) (*market.AvailabilitySlot, error) {
	const op = "availability.AddSlot"
	return operation.Call(ctx, m.run, op, actor, func(ctx context.Context) (*market.AvailabilitySlot, error) {
		if !actor.IsProvider() {
			return nil, &market.Error{Kind: market.KindNotOwner, Op: op, Entity: "slot", Detail: "only providers own availability"}
		}
		w := market.Interval{Start: start, End: end}
		if err := ValidateSlot(op, day, w); err != nil {
			return nil, err
		}

		unlock, err := m.locks.Lock(ctx, lock.ScheduleKey(actor.ID))
		if err != nil {
			return nil, err
		}
		defer unlock()

		existing, err := m.store.ListSlots(ctx, store.SlotFilter{ProviderID: actor.ID, Day: &day})
		if err != nil {
			return nil, err
		}
		if clash, ok := market.OverlappingSlot(deref(existing), day, w, ""); ok {
			return nil, overlap(op, clash)
		}

		now := m.now()
		s := &market.AvailabilitySlot{
			ID:          m.newID(),
			ProviderID:  actor.ID,
			DayOfWeek:   day,
			StartTime:   start,
			EndTime:     end,
			IsAvailable: true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.store.CreateSlot(ctx, s); err != nil {
			return nil, err
		}
		m.logger.InfoContext(ctx, "slot added", "slot_id", s.ID, "provider_id", actor.ID, "day", day.String(), "window", w.String())
		return s, nil
	})
}

// RemoveSlot withdraws a slot. It fails with SlotInUse while any pending or
// confirmed booking of the provider dated today or later, on that weekday,
// overlaps the slot. Bookings already in the past do not hold it.
// Removed slots are kept, flagged, for history.
func (m *Manager) RemoveSlot(ctx context.Context, actor market.Actor, slotID string) error {
	const op = "availability.RemoveSlot"
	return m.run.Run(ctx, op, actor, func(ctx context.Context) error {
		return m.mutateOwnSlot(ctx, op, actor, slotID, func(s *market.AvailabilitySlot) error {
			if s.Removed {
				return &market.Error{Kind: market.KindNotFound, Op: op, Entity: "slot", ID: slotID}
			}
			active, err := m.store.ListBookings(ctx, store.BookingFilter{
				ProviderID: s.ProviderID,
				Statuses:   []market.BookingStatus{market.BookingPending, market.BookingConfirmed},
			})
			if err != nil {
				return err
			}
			today := market.DateOf(m.now())
			for _, b := range active {
				if b.BookingDate.Before(today) {
					continue
				}
				if b.BookingDate.Weekday() == s.DayOfWeek && b.Window().Overlaps(s.Window()) {
					return &market.Error{
						Kind: market.KindSlotInUse, Op: op, Entity: "slot", ID: slotID,
						Detail: "booking " + b.ID + " on " + b.BookingDate.String() + " is " + string(b.Status),
					}
				}
			}
			s.Removed = true
			s.IsAvailable = false
			return nil
		})
	})
}

// SetAvailable toggles whether a slot accepts new bookings. Existing bookings
// inside it are unaffected. Re-enabling fails with Overlap if another
// available slot now intersects it.
func (m *Manager) SetAvailable(ctx context.Context, actor market.Actor, slotID string, available bool) (*market.AvailabilitySlot, error) {
	const op = "availability.SetAvailable"
	return operation.Call(ctx, m.run, op, actor, func(ctx context.Context) (*market.AvailabilitySlot, error) {
		var out *market.AvailabilitySlot
		err := m.mutateOwnSlot(ctx, op, actor, slotID, func(s *market.AvailabilitySlot) error {
			if s.Removed {
				return &market.Error{Kind: market.KindNotFound, Op: op, Entity: "slot", ID: slotID}
			}
			if available && !s.IsAvailable {
				day := s.DayOfWeek
				others, err := m.store.ListSlots(ctx, store.SlotFilter{ProviderID: s.ProviderID, Day: &day})
				if err != nil {
					return err
				}
				if clash, ok := market.OverlappingSlot(deref(others), day, s.Window(), s.ID); ok {
					return overlap(op, clash)
				}
			}
			s.IsAvailable = available
			out = s
			return nil
		})
		return out, err
	})
}

// mutateOwnSlot loads a slot owned by actor, applies change under the
// provider's schedule lock and writes it back with a version check.
func (m *Manager) mutateOwnSlot(ctx context.Context, op string, actor market.Actor, slotID string, change func(*market.AvailabilitySlot) error) error {
	s, err := m.store.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if s.ProviderID != actor.ID {
		return &market.Error{Kind: market.KindNotOwner, Op: op, Entity: "slot", ID: slotID}
	}

	unlock, err := m.locks.Lock(ctx, lock.ScheduleKey(s.ProviderID))
	if err != nil {
		return err
	}
	defer unlock()

	// Re-read under the lock so the checks see every committed booking.
	s, err = m.store.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if err := change(s); err != nil {
		return err
	}
	s.UpdatedAt = m.now()
	if err := m.store.UpdateSlot(ctx, s); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "slot updated", "slot_id", slotID, "provider_id", s.ProviderID,
		"available", s.IsAvailable, "removed", s.Removed, "op", op)
	return nil
}

// SlotsFor returns a provider's slots for one weekday ordered by start time.
// Removed slots are omitted; unavailable ones are included.
func (m *Manager) SlotsFor(ctx context.Context, providerID string, day time.Weekday) ([]*market.AvailabilitySlot, error) {
	const op = "availability.SlotsFor"
	return operation.Call(ctx, m.run, op, market.Actor{}, func(ctx context.Context) ([]*market.AvailabilitySlot, error) {
		if !market.ValidWeekday(day) {
			return nil, market.Errorf(market.KindInvalidInput, op, "day_of_week %d outside 0-6", int(day))
		}
		return m.store.ListSlots(ctx, store.SlotFilter{ProviderID: providerID, Day: &day})
	})
}

// WeeklySchedule returns all of a provider's live slots ordered by day then start.
func (m *Manager) WeeklySchedule(ctx context.Context, providerID string) ([]*market.AvailabilitySlot, error) {
	return operation.Call(ctx, m.run, "availability.WeeklySchedule", market.Actor{}, func(ctx context.Context) ([]*market.AvailabilitySlot, error) {
		return m.store.ListSlots(ctx, store.SlotFilter{ProviderID: providerID})
	})
}

// BookableWindows returns the parts of the provider's available slots on
// date not taken by pending or confirmed bookings.
func (m *Manager) BookableWindows(ctx context.Context, providerID string, date market.Date) ([]market.Interval, error) {
	const op = "availability.BookableWindows"
	return operation.Call(ctx, m.run, op, market.Actor{}, func(ctx context.Context) ([]market.Interval, error) {
		day := date.Weekday()
		slots, err := m.store.ListSlots(ctx, store.SlotFilter{ProviderID: providerID, Day: &day})
		if err != nil {
			return nil, err
		}
		bookings, err := m.store.ListBookings(ctx, store.BookingFilter{
			ProviderID: providerID,
			Date:       &date,
			Statuses:   []market.BookingStatus{market.BookingPending, market.BookingConfirmed},
		})
		if err != nil {
			return nil, err
		}
		bs := make([]market.Booking, len(bookings))
		for i, b := range bookings {
			bs[i] = *b
		}
		return market.BookableWindows(deref(slots), bs, date), nil
	})
}

func overlap(op string, clash market.AvailabilitySlot) error {
	return &market.Error{
		Kind: market.KindOverlap, Op: op, Entity: "slot", ID: clash.ID,
		Detail: "overlaps " + clash.DayOfWeek.String() + " " + clash.Window().String(),
	}
}

func deref(in []*market.AvailabilitySlot) []market.AvailabilitySlot {
	out := make([]market.AvailabilitySlot, len(in))
	for i, s := range in {
		out[i] = *s
	}
	return out
}
