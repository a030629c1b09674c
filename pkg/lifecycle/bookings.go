package lifecycle

import (
	"context"

	"github.com/Mindburn-Labs/marketplace/pkg/lock"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

// CreateBookingInput is a customer's intent to book a provider's offering
// for a window on a date.
type CreateBookingInput struct {
	OfferingID  string             `json:"offering_id"`
	TaskID      string             `json:"task_id,omitempty"`
	Date        market.Date        `json:"booking_date"`
	StartTime   market.TimeOfDay   `json:"start_time"`
	EndTime     market.TimeOfDay   `json:"end_time"`
	Location    string             `json:"location"`
	Description string             `json:"description,omitempty"`
	PricingType market.PricingType `json:"pricing_type"`
	// AgreedPrice is the fixed total in minor units. Ignored for hourly
	// pricing. Zero with a TaskID falls back to the task's price.
	AgreedPrice int64 `json:"agreed_price,omitempty"`
}

// CreateBooking schedules a pending booking. The window must lie inside an
// available slot of the provider on that weekday and must not overlap any
// other pending or confirmed booking of the provider on that date. Both
// checks and the insert run under the provider's schedule lock.
func (e *Engine) CreateBooking(ctx context.Context, actor market.Actor, in CreateBookingInput) (*market.Booking, error) {
	const op = "lifecycle.CreateBooking"
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*market.Booking, error) {
		if !actor.IsCustomer() {
			return nil, notOwner(op, "booking", "", "only customers create bookings")
		}
		w := market.Interval{Start: in.StartTime, End: in.EndTime}
		if !w.Valid() {
			return nil, invalidInput(op, "invalid window %s", w)
		}
		if in.Date.IsZero() {
			return nil, invalidInput(op, "booking_date is required")
		}
		if in.Date.Before(e.today()) {
			return nil, invalidInput(op, "booking date %s is in the past", in.Date)
		}
		if in.PricingType == "" {
			in.PricingType = market.PricingHourly
		}
		if !in.PricingType.Valid() {
			return nil, invalidInput(op, "unknown pricing type %q", in.PricingType)
		}

		off, err := e.store.GetOffering(ctx, in.OfferingID)
		if err != nil {
			return nil, err
		}
		if !off.IsActive {
			return nil, invalidInput(op, "offering %s is not active", off.ID)
		}

		var task *market.Task
		if in.TaskID != "" {
			task, err = e.store.GetTask(ctx, in.TaskID)
			if err != nil {
				return nil, err
			}
			if task.CustomerID != actor.ID {
				return nil, notOwner(op, "task", task.ID, "task belongs to another customer")
			}
			if (task.Status != market.TaskAssigned && task.Status != market.TaskInProgress) || task.AssignedProviderID != off.ProviderID {
				return nil, &market.Error{
					Kind: market.KindInvalidTransition, Op: op, Entity: "task", ID: task.ID,
					Detail: "task is not assigned to this provider",
				}
			}
		}

		var total int64
		switch in.PricingType {
		case market.PricingHourly:
			total = market.HourlyTotal(off.HourlyRate, w)
		case market.PricingFixed:
			total = in.AgreedPrice
			if total == 0 && task != nil {
				total = task.Price(e.defaultPrice)
			}
			if total <= 0 {
				return nil, market.Errorf(market.KindInvalidRate, op, "fixed price must be positive")
			}
		}

		unlock, err := e.locks.Lock(ctx, lock.ScheduleKey(off.ProviderID))
		if err != nil {
			return nil, err
		}
		defer unlock()

		day := in.Date.Weekday()
		slots, err := e.store.ListSlots(ctx, store.SlotFilter{ProviderID: off.ProviderID, Day: &day})
		if err != nil {
			return nil, err
		}
		if _, ok := market.CoveringSlot(derefSlots(slots), day, w); !ok {
			return nil, invalidInput(op, "%s on %s is outside the provider's availability", w, day)
		}

		existing, err := e.store.ListBookings(ctx, store.BookingFilter{
			ProviderID: off.ProviderID,
			Date:       &in.Date,
			Statuses:   []market.BookingStatus{market.BookingPending, market.BookingConfirmed},
		})
		if err != nil {
			return nil, err
		}
		for _, b := range existing {
			if b.Window().Overlaps(w) {
				return nil, &market.Error{
					Kind: market.KindOverlap, Op: op, Entity: "booking", ID: b.ID,
					Detail: "provider already booked " + b.Window().String(),
				}
			}
		}

		now := e.now()
		b := &market.Booking{
			ID:          e.newID(),
			CustomerID:  actor.ID,
			ProviderID:  off.ProviderID,
			ServiceID:   off.ServiceID,
			OfferingID:  off.ID,
			TaskID:      in.TaskID,
			BookingDate: in.Date,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			Location:    in.Location,
			Status:      market.BookingPending,
			PricingType: in.PricingType,
			TotalAmount: total,
			Description: in.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.store.CreateBooking(ctx, b); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "booking created", "booking_id", b.ID, "provider_id", b.ProviderID,
			"actor", actor.ID, "date", b.BookingDate.String(), "window", w.String(), "total", total)
		return b, nil
	})
}

// GetBooking returns a booking to one of its parties.
func (e *Engine) GetBooking(ctx context.Context, actor market.Actor, id string) (*market.Booking, error) {
	const op = "lifecycle.GetBooking"
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*market.Booking, error) {
		b, err := e.store.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		if !b.HasParty(actor.ID) {
			return nil, notOwner(op, "booking", id, "")
		}
		return b, nil
	})
}

// AcceptBooking confirms a pending booking. Provider only.
func (e *Engine) AcceptBooking(ctx context.Context, actor market.Actor, id string) (*market.Booking, error) {
	const op = "lifecycle.AcceptBooking"
	return e.transitionBooking(ctx, op, actor, id, market.BookingConfirmed, func(b *market.Booking) error {
		if b.ProviderID != actor.ID {
			return notOwner(op, "booking", id, "only the provider accepts a booking")
		}
		return nil
	})
}

// CompleteBooking marks a confirmed booking done. Either party may do so,
// and only on or after the booking date.
func (e *Engine) CompleteBooking(ctx context.Context, actor market.Actor, id string) (*market.Booking, error) {
	const op = "lifecycle.CompleteBooking"
	return e.transitionBooking(ctx, op, actor, id, market.BookingCompleted, func(b *market.Booking) error {
		if !b.HasParty(actor.ID) {
			return notOwner(op, "booking", id, "")
		}
		if today := e.today(); b.BookingDate.After(today) {
			return &market.Error{
				Kind: market.KindInvalidTransition, Op: op, Entity: "booking", ID: id,
				Detail: "booking date " + b.BookingDate.String() + " is after " + today.String(),
			}
		}
		return nil
	})
}

// CancelBooking cancels a pending or confirmed booking. Either party may do so.
func (e *Engine) CancelBooking(ctx context.Context, actor market.Actor, id, reason string) (*market.Booking, error) {
	const op = "lifecycle.CancelBooking"
	return e.transitionBooking(ctx, op, actor, id, market.BookingCancelled, func(b *market.Booking) error {
		if !b.HasParty(actor.ID) {
			return notOwner(op, "booking", id, "")
		}
		b.CancelReason = reason
		return nil
	})
}

func (e *Engine) transitionBooking(ctx context.Context, op string, actor market.Actor, id string,
	to market.BookingStatus, guard func(*market.Booking) error) (*market.Booking, error) {
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*market.Booking, error) {
		b, err := e.store.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := guard(b); err != nil {
			return nil, err
		}
		if !b.Status.CanTransition(to) {
			return nil, invalidTransition(op, "booking", id, b.Status, to)
		}
		from := b.Status
		b.Status = to
		b.UpdatedAt = e.now()
		if err := e.store.UpdateBooking(ctx, b); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "booking transition", "booking_id", id, "from", from, "to", to, "actor", actor.ID)
		return b, nil
	})
}

// ExpireStalePending cancels every pending booking whose date is already
// past. It is meant to be run periodically by an external scheduler and
// returns the number of bookings cancelled. Bookings that change underneath
// it are skipped and picked up on the next run.
func (e *Engine) ExpireStalePending(ctx context.Context) (int, error) {
	const op = "lifecycle.ExpireStalePending"
	system := market.Actor{ID: "system"}
	return operation.Call(ctx, e.run, op, system, func(ctx context.Context) (int, error) {
		pending, err := e.store.ListBookings(ctx, store.BookingFilter{Statuses: []market.BookingStatus{market.BookingPending}})
		if err != nil {
			return 0, err
		}
		today := e.today()
		expired := 0
		for _, b := range pending {
			if !b.BookingDate.Before(today) {
				continue
			}
			b.Status = market.BookingCancelled
			b.CancelReason = "expired: not accepted before booking date"
			b.UpdatedAt = e.now()
			if err := e.store.UpdateBooking(ctx, b); err != nil {
				if market.KindOf(err) == market.KindConflict {
					e.logger.WarnContext(ctx, "skipping booking changed during expiry", "booking_id", b.ID)
					continue
				}
				return expired, err
			}
			expired++
			e.logger.InfoContext(ctx, "booking transition", "booking_id", b.ID,
				"from", market.BookingPending, "to", market.BookingCancelled, "actor", system.ID)
		}
		return expired, nil
	})
}

func derefSlots(in []*market.AvailabilitySlot) []market.AvailabilitySlot {
	out := make([]market.AvailabilitySlot, len(in))
	for i, s := range in {
		out[i] = *s
	}
	return out
}

func derefBookings(in []*market.Booking) []market.Booking {
	out := make([]market.Booking, len(in))
	for i, b := range in {
		out[i] = *b
	}
	return out
}
