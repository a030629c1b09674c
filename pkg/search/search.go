// Package search answers browse queries over open tasks and active
// offerings. Filters are AND-combined and results come back fully ordered;
// callers page through them with Results.Window.
package search

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

type Engine struct {
	store        store.Store
	run          *operation.Runner
	now          func() time.Time
	logger       *slog.Logger
	services     map[string]market.ServiceDefinition
	defaultPrice int64
	where        *predicates
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithServices sets the definitions provider matches are decorated with.
func WithServices(defs []market.ServiceDefinition) Option {
	return func(e *Engine) {
		e.services = make(map[string]market.ServiceDefinition, len(defs))
		for _, d := range defs {
			e.services[d.ID] = d
		}
	}
}

// WithDefaultPrice sets the price used to rank tasks without a budget.
func WithDefaultPrice(p int64) Option {
	return func(e *Engine) {
		if p > 0 {
			e.defaultPrice = p
		}
	}
}

func New(s store.Store, r *operation.Runner, opts ...Option) (*Engine, error) {
	where, err := newPredicates(wherePrograms)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:        s,
		run:          r,
		now:          time.Now,
		logger:       slog.Default().With("component", "search"),
		defaultPrice: 5000,
		where:        where,
	}
	WithServices(market.DefaultServices())(e)
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Tasks returns the open tasks matching q.
//
// Date windows filter on ScheduledFor; unscheduled tasks match any window.
// price_low and price_high rank by BudgetMax, then BudgetMin, then the
// default price. rating ranks by the poster's profile.
func (e *Engine) Tasks(ctx context.Context, q Query) (*Results[TaskMatch], error) {
	const op = "search.Tasks"
	return operation.Call(ctx, e.run, op, market.Actor{}, func(ctx context.Context) (*Results[TaskMatch], error) {
		prg, err := e.prepare(op, &q)
		if err != nil {
			return nil, err
		}
		open, err := e.store.ListTasks(ctx, store.TaskFilter{Statuses: []market.TaskStatus{market.TaskOpen}})
		if err != nil {
			return nil, err
		}

		var candidates []*market.Task
		posters := make([]string, 0, len(open))
		for _, t := range open {
			if !containsFold(q.FreeText, t.Title, t.Description) {
				continue
			}
			if q.CategoryID != "" && t.CategoryID != q.CategoryID {
				continue
			}
			if !containsFold(q.Location, t.Location) {
				continue
			}
			if q.Window != nil && t.ScheduledFor != nil && !q.Window.Contains(*t.ScheduledFor) {
				continue
			}
			candidates = append(candidates, t)
			posters = append(posters, t.CustomerID)
		}

		profiles, err := e.store.ListProfiles(ctx, posters)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(candidates))
		for i, t := range candidates {
			ids[i] = t.ID
		}
		counts, err := e.store.CountApplications(ctx, ids)
		if err != nil {
			return nil, err
		}
		matches := make([]TaskMatch, 0, len(candidates))
		for _, t := range candidates {
			m := TaskMatch{Task: t, Poster: profiles[t.CustomerID], Applications: counts[t.ID], Price: t.Price(e.defaultPrice)}
			if prg != nil {
				ok, err := e.where.eval(ctx, prg, map[string]any{"task": taskVars(m), "provider": map[string]any{}})
				if err != nil {
					return nil, market.Errorf(market.KindInvalidInput, op, "where: %v", err)
				}
				if !ok {
					continue
				}
			}
			matches = append(matches, m)
		}

		slices.SortStableFunc(matches, taskOrder(q.Sort))
		e.logger.DebugContext(ctx, "task search", "candidates", len(open), "matches", len(matches), "sort", q.Sort)
		return &Results[TaskMatch]{items: matches}, nil
	})
}

// Providers returns active offerings matching q. CategoryID matches the
// service id, Location the provider's profile, and a date window requires an
// available slot on at least one weekday in it. Price sorts use the hourly
// rate.
func (e *Engine) Providers(ctx context.Context, q Query) (*Results[ProviderMatch], error) {
	const op = "search.Providers"
	return operation.Call(ctx, e.run, op, market.Actor{}, func(ctx context.Context) (*Results[ProviderMatch], error) {
		prg, err := e.prepare(op, &q)
		if err != nil {
			return nil, err
		}
		offerings, err := e.store.ListOfferings(ctx, store.OfferingFilter{ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(offerings))
		for _, o := range offerings {
			ids = append(ids, o.ProviderID)
		}
		profiles, err := e.store.ListProfiles(ctx, ids)
		if err != nil {
			return nil, err
		}

		var weekdays map[time.Weekday]bool
		if q.Window != nil {
			weekdays = q.Window.Weekdays()
		}
		matches := make([]ProviderMatch, 0, len(offerings))
		for _, o := range offerings {
			m := ProviderMatch{Offering: o, Service: e.service(o.ServiceID), Profile: profiles[o.ProviderID]}
			var name, location string
			if m.Profile != nil {
				name, location = m.Profile.DisplayName, m.Profile.Location
			}
			if !containsFold(q.FreeText, m.Service.Name, name, o.Description) {
				continue
			}
			if q.CategoryID != "" && o.ServiceID != q.CategoryID {
				continue
			}
			if !containsFold(q.Location, location) {
				continue
			}
			if weekdays != nil {
				free, err := e.availableOn(ctx, o.ProviderID, weekdays)
				if err != nil {
					return nil, err
				}
				if !free {
					continue
				}
			}
			if prg != nil {
				ok, err := e.where.eval(ctx, prg, map[string]any{"task": map[string]any{}, "provider": providerVars(m)})
				if err != nil {
					return nil, market.Errorf(market.KindInvalidInput, op, "where: %v", err)
				}
				if !ok {
					continue
				}
			}
			matches = append(matches, m)
		}

		slices.SortStableFunc(matches, providerOrder(q.Sort))
		e.logger.DebugContext(ctx, "provider search", "candidates", len(offerings), "matches", len(matches), "sort", q.Sort)
		return &Results[ProviderMatch]{items: matches}, nil
	})
}

// ResolveWindow resolves a preset against the engine's clock.
func (e *Engine) ResolveWindow(p WindowPreset) (*DateWindow, error) {
	w, err := p.Resolve(market.DateOf(e.now()))
	if err != nil {
		return nil, market.Errorf(market.KindInvalidInput, "search.ResolveWindow", "%v", err)
	}
	return w, nil
}

// prepare defaults the sort key and compiles the Where predicate, if any.
func (e *Engine) prepare(op string, q *Query) (cel.Program, error) {
	if q.Sort == "" {
		q.Sort = SortNewest
	}
	if !q.Sort.Valid() {
		return nil, market.Errorf(market.KindInvalidInput, op, "unknown sort %q", q.Sort)
	}
	if q.Window != nil && q.Window.To.Before(q.Window.From) {
		return nil, market.Errorf(market.KindInvalidInput, op, "date window ends before it starts")
	}
	if q.Where == "" {
		return nil, nil
	}
	p, err := e.where.program(q.Where)
	if err != nil {
		return nil, market.Errorf(market.KindInvalidInput, op, "where: %v", err)
	}
	return p, nil
}

func (e *Engine) service(id string) market.ServiceDefinition {
	if d, ok := e.services[id]; ok {
		return d
	}
	return market.ServiceDefinition{ID: id, Name: id}
}

func (e *Engine) availableOn(ctx context.Context, providerID string, days map[time.Weekday]bool) (bool, error) {
	slots, err := e.store.ListSlots(ctx, store.SlotFilter{ProviderID: providerID})
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s.Bookable() && days[s.DayOfWeek] {
			return true, nil
		}
	}
	return false, nil
}

func rating(p *market.Profile) (float64, int) {
	if p == nil {
		return 0, 0
	}
	return p.Rating, p.ReviewCount
}

// byRating orders higher rating first, then more reviews.
func byRating(a, b *market.Profile) int {
	ra, na := rating(a)
	rb, nb := rating(b)
	if c := cmp.Compare(rb, ra); c != 0 {
		return c
	}
	return cmp.Compare(nb, na)
}

func taskOrder(k SortKey) func(a, b TaskMatch) int {
	return func(a, b TaskMatch) int {
		var c int
		switch k {
		case SortPriceLow:
			c = cmp.Compare(a.Price, b.Price)
		case SortPriceHigh:
			c = cmp.Compare(b.Price, a.Price)
		case SortRating:
			c = byRating(a.Poster, b.Poster)
		default:
			c = b.Task.CreatedAt.Compare(a.Task.CreatedAt)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.Task.ID, b.Task.ID)
	}
}

func providerOrder(k SortKey) func(a, b ProviderMatch) int {
	return func(a, b ProviderMatch) int {
		var c int
		switch k {
		case SortPriceLow:
			c = cmp.Compare(a.Offering.HourlyRate, b.Offering.HourlyRate)
		case SortPriceHigh:
			c = cmp.Compare(b.Offering.HourlyRate, a.Offering.HourlyRate)
		case SortRating:
			c = byRating(a.Profile, b.Profile)
		default:
			c = b.Offering.CreatedAt.Compare(a.Offering.CreatedAt)
		}
		if c != 0 {
			return c
		}
		if c = cmp.Compare(a.Offering.ProviderID, b.Offering.ProviderID); c != 0 {
			return c
		}
		return cmp.Compare(a.Offering.ID, b.Offering.ID)
	}
}

func taskVars(m TaskMatch) map[string]any {
	t := m.Task
	r, n := rating(m.Poster)
	return map[string]any{
		"id":           t.ID,
		"title":        t.Title,
		"description":  t.Description,
		"category":     t.CategoryID,
		"location":     t.Location,
		"pricing_type": string(t.PricingType),
		"urgent":       t.Urgent,
		"price":        m.Price,
		"applications": int64(m.Applications),
		"rating":       r,
		"review_count": int64(n),
		"scheduled":    t.ScheduledFor != nil,
	}
}

func providerVars(m ProviderMatch) map[string]any {
	r, n := rating(m.Profile)
	var name, location string
	if m.Profile != nil {
		name, location = m.Profile.DisplayName, m.Profile.Location
	}
	return map[string]any{
		"id":           m.Offering.ProviderID,
		"name":         name,
		"location":     location,
		"service":      m.Offering.ServiceID,
		"hourly_rate":  m.Offering.HourlyRate,
		"description":  m.Offering.Description,
		"rating":       r,
		"review_count": int64(n),
	}
}
