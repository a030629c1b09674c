// Package store persists marketplace entities. Every Update* call is a
// compare-and-set on the entity's Version: it succeeds only if the stored
// version still equals the one the caller read, and bumps it by one.
package store

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

// Store is the persistence collaborator of the marketplace core.
type Store interface {
	UpsertProfile(ctx context.Context, p *market.Profile) error
	GetProfile(ctx context.Context, id string) (*market.Profile, error)
	// ListProfiles returns the profiles found for ids, keyed by id. Unknown ids are skipped.
	ListProfiles(ctx context.Context, ids []string) (map[string]*market.Profile, error)

	CreateTask(ctx context.Context, t *market.Task) error
	GetTask(ctx context.Context, id string) (*market.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]*market.Task, error)
	UpdateTask(ctx context.Context, t *market.Task) error

	CreateApplication(ctx context.Context, a *market.Application) error
	GetApplication(ctx context.Context, id string) (*market.Application, error)
	ListApplications(ctx context.Context, f ApplicationFilter) ([]*market.Application, error)
	// CountApplications returns the number of applications per task id.
	// Tasks without applications are absent from the map.
	CountApplications(ctx context.Context, taskIDs []string) (map[string]int, error)
	UpdateApplication(ctx context.Context, a *market.Application) error

	CreateBooking(ctx context.Context, b *market.Booking) error
	GetBooking(ctx context.Context, id string) (*market.Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]*market.Booking, error)
	UpdateBooking(ctx context.Context, b *market.Booking) error

	CreateOffering(ctx context.Context, o *market.ServiceOffering) error
	GetOffering(ctx context.Context, id string) (*market.ServiceOffering, error)
	ListOfferings(ctx context.Context, f OfferingFilter) ([]*market.ServiceOffering, error)
	UpdateOffering(ctx context.Context, o *market.ServiceOffering) error

	CreateSlot(ctx context.Context, s *market.AvailabilitySlot) error
	GetSlot(ctx context.Context, id string) (*market.AvailabilitySlot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]*market.AvailabilitySlot, error)
	UpdateSlot(ctx context.Context, s *market.AvailabilitySlot) error

	// Atomically runs fn against a transactional view. If fn returns an
	// error nothing it wrote is kept. Nested calls join the outer transaction.
	Atomically(ctx context.Context, fn func(tx Store) error) error
}

// TaskFilter selects tasks; results are ordered by CreatedAt desc, then ID.
type TaskFilter struct {
	CustomerID string
	ProviderID string // assigned provider
	Statuses   []market.TaskStatus
}

// ApplicationFilter selects applications; ordered by CreatedAt asc, then ID.
type ApplicationFilter struct {
	TaskID     string
	ProviderID string
}

// BookingFilter selects bookings; ordered by BookingDate desc, StartTime asc, then ID.
type BookingFilter struct {
	CustomerID string
	ProviderID string
	Date       *market.Date
	Statuses   []market.BookingStatus
}

// OfferingFilter selects offerings; ordered by ProviderID, ServiceID.
type OfferingFilter struct {
	ProviderID string
	ServiceID  string
	ActiveOnly bool
}

// SlotFilter selects slots; ordered by DayOfWeek, StartTime, then ID.
type SlotFilter struct {
	ProviderID     string
	Day            *time.Weekday
	IncludeRemoved bool
}

func conflict(entity, id string) error {
	return &market.Error{Kind: market.KindConflict, Entity: entity, ID: id, Detail: "version changed since read"}
}

func duplicate(entity, id, detail string) error {
	return &market.Error{Kind: market.KindDuplicate, Entity: entity, ID: id, Detail: detail}
}

func notFound(entity, id string) error {
	return &market.Error{Kind: market.KindNotFound, Entity: entity, ID: id}
}

func hasTaskStatus(set []market.TaskStatus, s market.TaskStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func hasBookingStatus(set []market.BookingStatus, s market.BookingStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
