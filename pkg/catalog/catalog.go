// Package catalog keeps the service definitions and the offerings providers
// publish against them.
package catalog

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

type Catalog struct {
	store  store.Store
	run    *operation.Runner
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	services   []market.ServiceDefinition
	categories []string
}

type Option func(*Catalog)

func WithClock(now func() time.Time) Option { return func(c *Catalog) { c.now = now } }

func WithIDGenerator(fn func() string) Option { return func(c *Catalog) { c.newID = fn } }

func WithLogger(l *slog.Logger) Option { return func(c *Catalog) { c.logger = l } }

// WithServices replaces the service definitions. An empty list disables the
// service id check in UpsertOffering.
func WithServices(defs []market.ServiceDefinition) Option {
	return func(c *Catalog) { c.services = slices.Clone(defs) }
}

func WithCategories(ids []string) Option {
	return func(c *Catalog) { c.categories = slices.Clone(ids) }
}

func New(s store.Store, r *operation.Runner, opts ...Option) *Catalog {
	c := &Catalog{
		store:      s,
		run:        r,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     slog.Default().With("component", "catalog"),
		services:   market.DefaultServices(),
		categories: market.DefaultCategories(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Services returns the service definitions in declaration order.
func (c *Catalog) Services() []market.ServiceDefinition {
	return slices.Clone(c.services)
}

// Categories returns the task categories in declaration order.
func (c *Catalog) Categories() []string {
	return slices.Clone(c.categories)
}

// Service looks up one definition by id.
func (c *Catalog) Service(id string) (market.ServiceDefinition, bool) {
	for _, d := range c.services {
		if d.ID == id {
			return d, true
		}
	}
	return market.ServiceDefinition{}, false
}

// ValidateOffering checks an offering row before it is written.
func (c *Catalog) ValidateOffering(op, serviceID string, hourlyRate int64) error {
	if hourlyRate <= 0 {
		return &market.Error{Kind: market.KindInvalidRate, Op: op, Entity: "offering", Detail: "hourly rate must be positive"}
	}
	if strings.TrimSpace(serviceID) == "" {
		return market.Errorf(market.KindInvalidInput, op, "service_id is required")
	}
	if len(c.services) > 0 {
		if _, ok := c.Service(serviceID); !ok {
			return market.Errorf(market.KindInvalidInput, op, "unknown service %q", serviceID)
		}
	}
	return nil
}

// UpsertOffering creates the acting provider's offering for serviceID or
// updates the rate and description of the existing one. A new offering is
// active; an existing one keeps its active flag.
func (c *Catalog) UpsertOffering(ctx context.Context, actor market.Actor, serviceID string, hourlyRate int64, description string) (*market.ServiceOffering, error) {
	const op = "catalog.UpsertOffering"
	return operation.Call(ctx, c.run, op, actor, func(ctx context.Context) (*market.ServiceOffering, error) {
		if !actor.IsProvider() {
			return nil, &market.Error{Kind: market.KindNotOwner, Op: op, Entity: "offering", Detail: "only providers publish offerings"}
		}
		if err := c.ValidateOffering(op, serviceID, hourlyRate); err != nil {
			return nil, err
		}

		existing, err := c.store.ListOfferings(ctx, store.OfferingFilter{ProviderID: actor.ID, ServiceID: serviceID})
		if err != nil {
			return nil, err
		}
		now := c.now()
		if len(existing) > 0 {
			o := existing[0]
			o.HourlyRate = hourlyRate
			o.Description = description
			o.UpdatedAt = now
			if err := c.store.UpdateOffering(ctx, o); err != nil {
				return nil, err
			}
			c.logger.InfoContext(ctx, "offering updated", "offering_id", o.ID, "provider_id", actor.ID, "service_id", serviceID, "rate", hourlyRate)
			return o, nil
		}

		o := &market.ServiceOffering{
			ID:          c.newID(),
			ProviderID:  actor.ID,
			ServiceID:   serviceID,
			HourlyRate:  hourlyRate,
			Description: description,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := c.store.CreateOffering(ctx, o); err != nil {
			if market.KindOf(err) == market.KindDuplicate {
				// Lost a race with a concurrent create; the retry takes the update path.
				return nil, &market.Error{Kind: market.KindConflict, Op: op, Entity: "offering", Err: err}
			}
			return nil, err
		}
		c.logger.InfoContext(ctx, "offering created", "offering_id", o.ID, "provider_id", actor.ID, "service_id", serviceID, "rate", hourlyRate)
		return o, nil
	})
}

// SetActive toggles whether an offering is matched by search and bookable.
func (c *Catalog) SetActive(ctx context.Context, actor market.Actor, offeringID string, active bool) (*market.ServiceOffering, error) {
	const op = "catalog.SetActive"
	return operation.Call(ctx, c.run, op, actor, func(ctx context.Context) (*market.ServiceOffering, error) {
		o, err := c.store.GetOffering(ctx, offeringID)
		if err != nil {
			return nil, err
		}
		if o.ProviderID != actor.ID {
			return nil, &market.Error{Kind: market.KindNotOwner, Op: op, Entity: "offering", ID: offeringID}
		}
		if o.IsActive == active {
			return o, nil
		}
		o.IsActive = active
		o.UpdatedAt = c.now()
		if err := c.store.UpdateOffering(ctx, o); err != nil {
			return nil, err
		}
		c.logger.InfoContext(ctx, "offering toggled", "offering_id", o.ID, "active", active, "actor", actor.ID)
		return o, nil
	})
}

// OfferingsFor returns every offering of a provider, active or not.
func (c *Catalog) OfferingsFor(ctx context.Context, providerID string) ([]*market.ServiceOffering, error) {
	return operation.Call(ctx, c.run, "catalog.OfferingsFor", market.Actor{}, func(ctx context.Context) ([]*market.ServiceOffering, error) {
		return c.store.ListOfferings(ctx, store.OfferingFilter{ProviderID: providerID})
	})
}
