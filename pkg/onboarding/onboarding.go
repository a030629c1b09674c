// Package onboarding turns a completed sign-up form into stored records.
// A provider's profile, offerings and weekly slots are validated together
// and written in one transaction, so a failed onboarding leaves nothing
// behind.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/marketplace/pkg/availability"
	"github.com/Mindburn-Labs/marketplace/pkg/catalog"
	"github.com/Mindburn-Labs/marketplace/pkg/lock"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

// ProfileInput is the personal part of a sign-up form.
type ProfileInput struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Location    string `json:"location"`
	Bio         string `json:"bio,omitempty"`
}

type OfferingRow struct {
	ServiceID   string `json:"service_id"`
	HourlyRate  int64  `json:"hourly_rate"`
	Description string `json:"description"`
}

type SlotRow struct {
	DayOfWeek time.Weekday     `json:"day_of_week"`
	StartTime market.TimeOfDay `json:"start_time"`
	EndTime   market.TimeOfDay `json:"end_time"`
}

func (r SlotRow) window() market.Interval {
	return market.Interval{Start: r.StartTime, End: r.EndTime}
}

// Draft collects a provider's onboarding rows before Commit.
type Draft struct {
	Profile   ProfileInput  `json:"profile"`
	Offerings []OfferingRow `json:"offerings"`
	Slots     []SlotRow     `json:"slots"`
}

func NewDraft(p ProfileInput) *Draft {
	return &Draft{Profile: p}
}

func (d *Draft) Offer(serviceID string, hourlyRate int64, description string) *Draft {
	d.Offerings = append(d.Offerings, OfferingRow{ServiceID: serviceID, HourlyRate: hourlyRate, Description: description})
	return d
}

func (d *Draft) Slot(day time.Weekday, start, end market.TimeOfDay) *Draft {
	d.Slots = append(d.Slots, SlotRow{DayOfWeek: day, StartTime: start, EndTime: end})
	return d
}

// Result is what Commit wrote.
type Result struct {
	Profile   *market.Profile            `json:"profile"`
	Offerings []*market.ServiceOffering  `json:"offerings"`
	Slots     []*market.AvailabilitySlot `json:"slots"`
}

type Service struct {
	store   store.Store
	locks   lock.Locker
	run     *operation.Runner
	catalog *catalog.Catalog
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func New(st store.Store, l lock.Locker, r *operation.Runner, c *catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		store:   st,
		locks:   l,
		run:     r,
		catalog: c,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  slog.Default().With("component", "onboarding"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate checks every row of the draft on its own and against the
// others. All problems are reported, joined.
func (s *Service) Validate(d *Draft) error {
	const op = "onboarding.Validate"
	var errs []error
	if err := validateProfile(op, d.Profile); err != nil {
		errs = append(errs, err)
	}
	if len(d.Offerings) == 0 {
		errs = append(errs, market.Errorf(market.KindInvalidInput, op, "at least one offering is required"))
	}
	if len(d.Slots) == 0 {
		errs = append(errs, market.Errorf(market.KindInvalidInput, op, "at least one availability slot is required"))
	}

	seen := make(map[string]int, len(d.Offerings))
	for i, o := range d.Offerings {
		if err := s.catalog.ValidateOffering(fmt.Sprintf("%s: offerings[%d]", op, i), o.ServiceID, o.HourlyRate); err != nil {
			errs = append(errs, err)
			continue
		}
		if j, dup := seen[o.ServiceID]; dup {
			errs = append(errs, &market.Error{
				Kind: market.KindDuplicate, Op: op, Entity: "offering", ID: o.ServiceID,
				Detail: fmt.Sprintf("offerings[%d] repeats offerings[%d]", i, j),
			})
			continue
		}
		seen[o.ServiceID] = i
	}

	for i, sl := range d.Slots {
		if err := availability.ValidateSlot(fmt.Sprintf("%s: slots[%d]", op, i), sl.DayOfWeek, sl.window()); err != nil {
			errs = append(errs, err)
			continue
		}
		for j := 0; j < i; j++ {
			prev := d.Slots[j]
			if prev.DayOfWeek == sl.DayOfWeek && prev.window().Valid() && prev.window().Overlaps(sl.window()) {
				errs = append(errs, &market.Error{
					Kind: market.KindOverlap, Op: op, Entity: "slot",
					Detail: fmt.Sprintf("slots[%d] overlaps slots[%d]", i, j),
				})
				break
			}
		}
	}
	return errors.Join(errs...)
}

func validateProfile(op string, p ProfileInput) error {
	if strings.TrimSpace(p.DisplayName) == "" {
		return market.Errorf(market.KindInvalidInput, op, "display_name is required")
	}
	if strings.TrimSpace(p.Location) == "" {
		return market.Errorf(market.KindInvalidInput, op, "location is required")
	}
	return nil
}

// Commit validates the draft and writes the provider's profile, offerings
// and slots in one transaction under the provider's schedule lock.
// Offerings for a service the provider already offers are updated in place.
// Slots are checked against the provider's existing available slots too.
func (s *Service) Commit(ctx context.Context, actor market.Actor, d *Draft) (*Result, error) {
	const op = "onboarding.Commit"
	return operation.Call(ctx, s.run, op, actor, func(ctx context.Context) (*Result, error) {
		if !actor.IsProvider() {
			return nil, &market.Error{Kind: market.KindNotOwner, Op: op, Entity: "profile", ID: actor.ID, Detail: "provider onboarding requires a provider"}
		}
		if err := s.Validate(d); err != nil {
			return nil, err
		}

		unlock, err := s.locks.Lock(ctx, lock.ScheduleKey(actor.ID))
		if err != nil {
			return nil, err
		}
		defer unlock()

		var res *Result
		err = s.store.Atomically(ctx, func(tx store.Store) error {
			res = &Result{}
			now := s.now()
			p, err := s.profile(ctx, tx, actor, d.Profile, now)
			if err != nil {
				return err
			}
			res.Profile = p

			for _, row := range d.Offerings {
				o, err := s.offering(ctx, tx, actor.ID, row, now)
				if err != nil {
					return err
				}
				res.Offerings = append(res.Offerings, o)
			}

			existing, err := tx.ListSlots(ctx, store.SlotFilter{ProviderID: actor.ID})
			if err != nil {
				return err
			}
			live := make([]market.AvailabilitySlot, 0, len(existing))
			for _, sl := range existing {
				live = append(live, *sl)
			}
			for i, row := range d.Slots {
				if clash, ok := market.OverlappingSlot(live, row.DayOfWeek, row.window(), ""); ok {
					return &market.Error{
						Kind: market.KindOverlap, Op: op, Entity: "slot", ID: clash.ID,
						Detail: fmt.Sprintf("slots[%d] overlaps existing %s %s", i, clash.DayOfWeek, clash.Window()),
					}
				}
				sl := &market.AvailabilitySlot{
					ID:          s.newID(),
					ProviderID:  actor.ID,
					DayOfWeek:   row.DayOfWeek,
					StartTime:   row.StartTime,
					EndTime:     row.EndTime,
					IsAvailable: true,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := tx.CreateSlot(ctx, sl); err != nil {
					return err
				}
				res.Slots = append(res.Slots, sl)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "provider onboarded", "provider_id", actor.ID,
			"offerings", len(res.Offerings), "slots", len(res.Slots))
		return res, nil
	})
}

// CommitCustomer stores a customer's profile.
func (s *Service) CommitCustomer(ctx context.Context, actor market.Actor, in ProfileInput) (*market.Profile, error) {
	const op = "onboarding.CommitCustomer"
	return operation.Call(ctx, s.run, op, actor, func(ctx context.Context) (*market.Profile, error) {
		if !actor.IsCustomer() {
			return nil, &market.Error{Kind: market.KindNotOwner, Op: op, Entity: "profile", ID: actor.ID, Detail: "customer onboarding requires a customer"}
		}
		if strings.TrimSpace(in.DisplayName) == "" {
			return nil, market.Errorf(market.KindInvalidInput, op, "display_name is required")
		}
		p, err := s.profile(ctx, s.store, actor, in, s.now())
		if err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "customer onboarded", "customer_id", actor.ID)
		return p, nil
	})
}

// profile writes the profile, keeping the rating and creation time of an
// existing record.
func (s *Service) profile(ctx context.Context, st store.Store, actor market.Actor, in ProfileInput, now time.Time) (*market.Profile, error) {
	p := &market.Profile{
		ID:          actor.ID,
		UserType:    actor.Type,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Email:       in.Email,
		Phone:       in.Phone,
		Location:    strings.TrimSpace(in.Location),
		Bio:         in.Bio,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	prev, err := st.GetProfile(ctx, actor.ID)
	switch {
	case err == nil:
		if prev.UserType != actor.Type {
			return nil, &market.Error{
				Kind: market.KindInvalidInput, Op: "onboarding.profile", Entity: "profile", ID: actor.ID,
				Detail: fmt.Sprintf("already registered as %s", prev.UserType),
			}
		}
		p.Rating, p.ReviewCount, p.CreatedAt = prev.Rating, prev.ReviewCount, prev.CreatedAt
	case market.KindOf(err) != market.KindNotFound:
		return nil, err
	}
	if err := st.UpsertProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) offering(ctx context.Context, tx store.Store, providerID string, row OfferingRow, now time.Time) (*market.ServiceOffering, error) {
	existing, err := tx.ListOfferings(ctx, store.OfferingFilter{ProviderID: providerID, ServiceID: row.ServiceID})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		o := existing[0]
		o.HourlyRate = row.HourlyRate
		o.Description = row.Description
		o.IsActive = true
		o.UpdatedAt = now
		return o, tx.UpdateOffering(ctx, o)
	}
	o := &market.ServiceOffering{
		ID:          s.newID(),
		ProviderID:  providerID,
		ServiceID:   row.ServiceID,
		HourlyRate:  row.HourlyRate,
		Description: row.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return o, tx.CreateOffering(ctx, o)
}
