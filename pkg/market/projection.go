package market

import (
	"sort"
	"time"
)

// Timing is the dashboard classification of a booking relative to today.
type Timing string

const (
	Upcoming Timing = "upcoming"
	Past     Timing = "past"
)

// Classify places b in exactly one of Upcoming or Past.
func Classify(b Booking, today Date) Timing {
	if !b.Status.Terminal() && !b.BookingDate.Before(today) {
		return Upcoming
	}
	return Past
}

// PartitionBookings splits bookings by Classify, preserving input order.
func PartitionBookings(bookings []Booking, today Date) (upcoming, past []Booking) {
	for _, b := range bookings {
		if Classify(b, today) == Upcoming {
			upcoming = append(upcoming, b)
		} else {
			past = append(past, b)
		}
	}
	return upcoming, past
}

// CompletedTotal sums TotalAmount over completed bookings for which keep
// returns true.
func CompletedTotal(bookings []Booking, keep func(Booking) bool) (total int64, count int) {
	for _, b := range bookings {
		if b.Status != BookingCompleted || !keep(b) {
			continue
		}
		total += b.TotalAmount
		count++
	}
	return total, count
}

// TotalEarnings is the provider-side aggregate over completed bookings.
func TotalEarnings(providerID string, bookings []Booking) int64 {
	total, _ := CompletedTotal(bookings, func(b Booking) bool { return b.ProviderID == providerID })
	return total
}

// TotalSpent is the customer-side aggregate over completed bookings.
func TotalSpent(customerID string, bookings []Booking) int64 {
	total, _ := CompletedTotal(bookings, func(b Booking) bool { return b.CustomerID == customerID })
	return total
}

// StatusCounts tallies bookings per status.
func StatusCounts(bookings []Booking) map[BookingStatus]int {
	out := make(map[BookingStatus]int, len(bookingTransitions))
	for _, b := range bookings {
		out[b.Status]++
	}
	return out
}

// CoveringSlot returns the first bookable slot on day that fully contains w.
func CoveringSlot(slots []AvailabilitySlot, day time.Weekday, w Interval) (AvailabilitySlot, bool) {
	for _, s := range slots {
		if s.DayOfWeek == day && s.Bookable() && s.Window().Contains(w) {
			return s, true
		}
	}
	return AvailabilitySlot{}, false
}

// OverlappingSlot returns a bookable slot on day intersecting w, skipping skipID.
func OverlappingSlot(slots []AvailabilitySlot, day time.Weekday, w Interval, skipID string) (AvailabilitySlot, bool) {
	for _, s := range slots {
		if s.ID == skipID || s.DayOfWeek != day || !s.Bookable() {
			continue
		}
		if s.Window().Overlaps(w) {
			return s, true
		}
	}
	return AvailabilitySlot{}, false
}

// BookableWindows returns the free parts of the bookable slots for date after
// subtracting the windows of active bookings on that date.
func BookableWindows(slots []AvailabilitySlot, bookings []Booking, date Date) []Interval {
	var taken []Interval
	for _, b := range bookings {
		if b.Status.Active() && b.BookingDate == date {
			taken = append(taken, b.Window())
		}
	}
	var out []Interval
	day := date.Weekday()
	for _, s := range slots {
		if s.DayOfWeek != day || !s.Bookable() {
			continue
		}
		out = append(out, s.Window().Subtract(taken)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
