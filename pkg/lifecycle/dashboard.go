package lifecycle

import (
	"context"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

// CustomerDashboard is the customer's view of their bookings and tasks.
// Every field is recomputed from the store on each call.
type CustomerDashboard struct {
	Upcoming       []market.Booking `json:"upcoming"`
	Past           []market.Booking `json:"past"`
	CompletedCount int              `json:"completed_count"`
	TotalSpent     int64            `json:"total_spent"`
	Tasks          []*market.Task   `json:"tasks"`
}

// ProviderDashboard is the provider's view of their bookings, assigned
// tasks and offerings.
type ProviderDashboard struct {
	Upcoming       []market.Booking          `json:"upcoming"`
	Past           []market.Booking          `json:"past"`
	CompletedCount int                       `json:"completed_count"`
	TotalEarnings  int64                     `json:"total_earnings"`
	AssignedTasks  []*market.Task            `json:"assigned_tasks"`
	Offerings      []*market.ServiceOffering `json:"offerings"`
}

func (e *Engine) CustomerDashboard(ctx context.Context, actor market.Actor) (*CustomerDashboard, error) {
	const op = "lifecycle.CustomerDashboard"
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*CustomerDashboard, error) {
		if !actor.IsCustomer() {
			return nil, notOwner(op, "dashboard", actor.ID, "customer dashboard requires a customer")
		}
		rows, err := e.store.ListBookings(ctx, store.BookingFilter{CustomerID: actor.ID})
		if err != nil {
			return nil, err
		}
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{CustomerID: actor.ID})
		if err != nil {
			return nil, err
		}
		bookings := derefBookings(rows)
		d := &CustomerDashboard{Tasks: tasks}
		d.Upcoming, d.Past = market.PartitionBookings(bookings, e.today())
		d.TotalSpent, d.CompletedCount = market.CompletedTotal(bookings, func(b market.Booking) bool {
			return b.CustomerID == actor.ID
		})
		return d, nil
	})
}

func (e *Engine) ProviderDashboard(ctx context.Context, actor market.Actor) (*ProviderDashboard, error) {
	const op = "lifecycle.ProviderDashboard"
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*ProviderDashboard, error) {
		if !actor.IsProvider() {
			return nil, notOwner(op, "dashboard", actor.ID, "provider dashboard requires a provider")
		}
		rows, err := e.store.ListBookings(ctx, store.BookingFilter{ProviderID: actor.ID})
		if err != nil {
			return nil, err
		}
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{ProviderID: actor.ID})
		if err != nil {
			return nil, err
		}
		offerings, err := e.store.ListOfferings(ctx, store.OfferingFilter{ProviderID: actor.ID})
		if err != nil {
			return nil, err
		}
		bookings := derefBookings(rows)
		d := &ProviderDashboard{AssignedTasks: tasks, Offerings: offerings}
		d.Upcoming, d.Past = market.PartitionBookings(bookings, e.today())
		d.TotalEarnings, d.CompletedCount = market.CompletedTotal(bookings, func(b market.Booking) bool {
			return b.ProviderID == actor.ID
		})
		return d, nil
	})
}
