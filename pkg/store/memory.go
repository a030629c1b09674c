package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

// MemoryStore implements Store in memory.
// Thread-safe via RWMutex; every read and write copies, so callers never
// share memory with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

type memData struct {
	profiles     map[string]market.Profile
	tasks        map[string]*market.Task
	applications map[string]market.Application
	bookings     map[string]market.Booking
	offerings    map[string]market.ServiceOffering
	slots        map[string]market.AvailabilitySlot
}

func newMemData() *memData {
	return &memData{
		profiles:     make(map[string]market.Profile),
		tasks:        make(map[string]*market.Task),
		applications: make(map[string]market.Application),
		bookings:     make(map[string]market.Booking),
		offerings:    make(map[string]market.ServiceOffering),
		slots:        make(map[string]market.AvailabilitySlot),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.tasks {
		c.tasks[k] = v.Clone()
	}
	for k, v := range d.applications {
		c.applications[k] = v
	}
	for k, v := range d.bookings {
		c.bookings[k] = v
	}
	for k, v := range d.offerings {
		c.offerings[k] = v
	}
	for k, v := range d.slots {
		c.slots[k] = v
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) read(ctx context.Context, fn func(v memView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memView{d: s.data})
}

func (s *MemoryStore) write(ctx context.Context, fn func(v memView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(memView{d: s.data})
}

// Atomically holds the write lock for the whole of fn and works on a copy
// that replaces the live data only when fn succeeds.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&memTx{view: memView{d: work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) UpsertProfile(ctx context.Context, p *market.Profile) error {
	return s.write(ctx, func(v memView) error { return v.upsertProfile(p) })
}

func (s *MemoryStore) GetProfile(ctx context.Context, id string) (out *market.Profile, err error) {
	err = s.read(ctx, func(v memView) error { out, err = v.getProfile(id); return err })
	return out, err
}

func (s *MemoryStore) ListProfiles(ctx context.Context, ids []string) (out map[string]*market.Profile, err error) {
	err = s.read(ctx, func(v memView) error { out = v.listProfiles(ids); return nil })
	return out, err
}

func (s *MemoryStore) CreateTask(ctx context.Context, t *market.Task) error {
	return s.write(ctx, func(v memView) error { return v.createTask(t) })
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (out *market.Task, err error) {
	err = s.read(ctx, func(v memView) error { out, err = v.getTask(id); return err })
	return out, err
}

func (s *MemoryStore) ListTasks(ctx context.Context, f TaskFilter) (out []*market.Task, err error) {
	err = s.read(ctx, func(v memView) error { out = v.listTasks(f); return nil })
	return out, err
}

func (s *MemoryStore) UpdateTask(ctx context.Context, t *market.Task) error {
	return s.write(ctx, func(v memView) error { return v.updateTask(t) })
}

func (s *MemoryStore) CreateApplication(ctx context.Context, a *market.Application) error {
	return s.write(ctx, func(v memView) error { return v.createApplication(a) })
}

func (s *MemoryStore) GetApplication(ctx context.Context, id string) (out *market.Application, err error) {
	err = s.read(ctx, func(v memView) error { out, err = v.getApplication(id); return err })
	return out, err
}

func (s *MemoryStore) ListApplications(ctx context.Context, f ApplicationFilter) (out []*market.Application, err error) {
	err = s.read(ctx, func(v memView) error { out = v.listApplications(f); return nil })
	return out, err
}

func (s *MemoryStore) CountApplications(ctx context.Context, taskIDs []string) (out map[string]int, err error) {
	err = s.read(ctx, func(v memView) error { out = v.countApplications(taskIDs); return nil })
	return out, err
}

func (s *MemoryStore) UpdateApplication(ctx context.Context, a *market.Application) error {
	return s.write(ctx, func(v memView) error { return v.updateApplication(a) })
}

func (s *MemoryStore) CreateBooking(ctx context.Context, b *market.Booking) error {
	return s.write(ctx, func(v memView) error { return v.createBooking(b) })
}

func (s *MemoryStore) GetBooking(ctx context.Context, id string) (out *market.Booking, err error) {
	err = s.read(ctx, func(v memView) error { out, err = v.getBooking(id); return err })
	return out, err
}

func (s *MemoryStore) ListBookings(ctx context.Context, f BookingFilter) (out []*market.Booking, err error) {
	err = s.read(ctx, func(v memView) error { out = v.listBookings(f); return nil })
	return out, err
}

func (s *MemoryStore) UpdateBooking(ctx context.Context, b *market.Booking) error {
	return s.write(ctx, func(v memView) error { return v.updateBooking(b) })
}

func (s *MemoryStore) CreateOffering(ctx context.Context, o *market.ServiceOffering) error {
	return s.write(ctx, func(v memView) error { return v.createOffering(o) })
}

func (s *MemoryStore) GetOffering(ctx context.Context, id string) (out *market.ServiceOffering, err error) {
	err = s.read(ctx, func(v memView) error { out, err = v.getOffering(id); return err })
	return out, err
}

func (s *MemoryStore) ListOfferings(ctx context.Context, f OfferingFilter) (out []*market.ServiceOffering, err error) {
	err = s.read(ctx, func(v memView) error { out = v.listOfferings(f); return nil })
	return out, err
}

func (s *MemoryStore) UpdateOffering(ctx context.Context, o *market.ServiceOffering) error {
	return s.write(ctx, func(v memView) error { return v.updateOffering(o) })
}

func (s *MemoryStore) CreateSlot(ctx context.Context, sl *market.AvailabilitySlot) error {
	return s.write(ctx, func(v memView) error { return v.createSlot(sl) })
}

func (s *MemoryStore) GetSlot(ctx context.Context, id string) (out *market.AvailabilitySlot, err error) {
	err = s.read(ctx, func(v memView) error { out, err = v.getSlot(id); return err })
	return out, err
}

func (s *MemoryStore) ListSlots(ctx context.Context, f SlotFilter) (out []*market.AvailabilitySlot, err error) {
	err = s.read(ctx, func(v memView) error { out = v.listSlots(f); return nil })
	return out, err
}

func (s *MemoryStore) UpdateSlot(ctx context.Context, sl *market.AvailabilitySlot) error {
	return s.write(ctx, func(v memView) error { return v.updateSlot(sl) })
}

// memTx is the Store handed to Atomically callbacks. It is only used while
// the MemoryStore write lock is held, so it does no locking of its own.
type memTx struct {
	view memView
}

func (t *memTx) Atomically(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memTx) UpsertProfile(ctx context.Context, p *market.Profile) error {
	return t.view.upsertProfile(p)
}

func (t *memTx) GetProfile(ctx context.Context, id string) (*market.Profile, error) {
	return t.view.getProfile(id)
}

func (t *memTx) ListProfiles(ctx context.Context, ids []string) (map[string]*market.Profile, error) {
	return t.view.listProfiles(ids), nil
}

func (t *memTx) CreateTask(ctx context.Context, v *market.Task) error { return t.view.createTask(v) }

func (t *memTx) GetTask(ctx context.Context, id string) (*market.Task, error) {
	return t.view.getTask(id)
}

func (t *memTx) ListTasks(ctx context.Context, f TaskFilter) ([]*market.Task, error) {
	return t.view.listTasks(f), nil
}

func (t *memTx) UpdateTask(ctx context.Context, v *market.Task) error { return t.view.updateTask(v) }

func (t *memTx) CreateApplication(ctx context.Context, a *market.Application) error {
	return t.view.createApplication(a)
}

func (t *memTx) GetApplication(ctx context.Context, id string) (*market.Application, error) {
	return t.view.getApplication(id)
}

func (t *memTx) ListApplications(ctx context.Context, f ApplicationFilter) ([]*market.Application, error) {
	return t.view.listApplications(f), nil
}

func (t *memTx) CountApplications(ctx context.Context, taskIDs []string) (map[string]int, error) {
	return t.view.countApplications(taskIDs), nil
}

func (t *memTx) UpdateApplication(ctx context.Context, a *market.Application) error {
	return t.view.updateApplication(a)
}

func (t *memTx) CreateBooking(ctx context.Context, b *market.Booking) error {
	return t.view.createBooking(b)
}

func (t *memTx) GetBooking(ctx context.Context, id string) (*market.Booking, error) {
	return t.view.getBooking(id)
}

func (t *memTx) ListBookings(ctx context.Context, f BookingFilter) ([]*market.Booking, error) {
	return t.view.listBookings(f), nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b *market.Booking) error {
	return t.view.updateBooking(b)
}

func (t *memTx) CreateOffering(ctx context.Context, o *market.ServiceOffering) error {
	return t.view.createOffering(o)
}

func (t *memTx) GetOffering(ctx context.Context, id string) (*market.ServiceOffering, error) {
	return t.view.getOffering(id)
}

func (t *memTx) ListOfferings(ctx context.Context, f OfferingFilter) ([]*market.ServiceOffering, error) {
	return t.view.listOfferings(f), nil
}

func (t *memTx) UpdateOffering(ctx context.Context, o *market.ServiceOffering) error {
	return t.view.updateOffering(o)
}

func (t *memTx) CreateSlot(ctx context.Context, s *market.AvailabilitySlot) error {
	return t.view.createSlot(s)
}

func (t *memTx) GetSlot(ctx context.Context, id string) (*market.AvailabilitySlot, error) {
	return t.view.getSlot(id)
}

func (t *memTx) ListSlots(ctx context.Context, f SlotFilter) ([]*market.AvailabilitySlot, error) {
	return t.view.listSlots(f), nil
}

func (t *memTx) UpdateSlot(ctx context.Context, s *market.AvailabilitySlot) error {
	return t.view.updateSlot(s)
}

// memView implements the operations over one memData without locking.
type memView struct {
	d *memData
}

func (v memView) upsertProfile(p *market.Profile) error {
	v.d.profiles[p.ID] = *p
	return nil
}

func (v memView) getProfile(id string) (*market.Profile, error) {
	p, ok := v.d.profiles[id]
	if !ok {
		return nil, notFound("profile", id)
	}
	return &p, nil
}

func (v memView) listProfiles(ids []string) map[string]*market.Profile {
	out := make(map[string]*market.Profile, len(ids))
	for _, id := range ids {
		if p, ok := v.d.profiles[id]; ok {
			out[id] = &p
		}
	}
	return out
}

func (v memView) createTask(t *market.Task) error {
	if _, ok := v.d.tasks[t.ID]; ok {
		return duplicate("task", t.ID, "id already exists")
	}
	t.Version = 1
	v.d.tasks[t.ID] = t.Clone()
	return nil
}

func (v memView) getTask(id string) (*market.Task, error) {
	t, ok := v.d.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	return t.Clone(), nil
}

func (v memView) listTasks(f TaskFilter) []*market.Task {
	var out []*market.Task
	for _, t := range v.d.tasks {
		if f.CustomerID != "" && t.CustomerID != f.CustomerID {
			continue
		}
		if f.ProviderID != "" && t.AssignedProviderID != f.ProviderID {
			continue
		}
		if !hasTaskStatus(f.Statuses, t.Status) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v memView) updateTask(t *market.Task) error {
	cur, ok := v.d.tasks[t.ID]
	if !ok {
		return notFound("task", t.ID)
	}
	if cur.Version != t.Version {
		return conflict("task", t.ID)
	}
	t.Version++
	v.d.tasks[t.ID] = t.Clone()
	return nil
}

func (v memView) createApplication(a *market.Application) error {
	if _, ok := v.d.applications[a.ID]; ok {
		return duplicate("application", a.ID, "id already exists")
	}
	for _, other := range v.d.applications {
		if other.TaskID == a.TaskID && other.ProviderID == a.ProviderID {
			return duplicate("application", other.ID, "provider already applied to this task")
		}
	}
	a.Version = 1
	v.d.applications[a.ID] = *a
	return nil
}

func (v memView) getApplication(id string) (*market.Application, error) {
	a, ok := v.d.applications[id]
	if !ok {
		return nil, notFound("application", id)
	}
	return &a, nil
}

func (v memView) listApplications(f ApplicationFilter) []*market.Application {
	var out []*market.Application
	for _, a := range v.d.applications {
		if f.TaskID != "" && a.TaskID != f.TaskID {
			continue
		}
		if f.ProviderID != "" && a.ProviderID != f.ProviderID {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v memView) countApplications(taskIDs []string) map[string]int {
	want := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		want[id] = true
	}
	out := make(map[string]int)
	for _, a := range v.d.applications {
		if want[a.TaskID] {
			out[a.TaskID]++
		}
	}
	return out
}

func (v memView) updateApplication(a *market.Application) error {
	cur, ok := v.d.applications[a.ID]
	if !ok {
		return notFound("application", a.ID)
	}
	if cur.Version != a.Version {
		return conflict("application", a.ID)
	}
	a.Version++
	v.d.applications[a.ID] = *a
	return nil
}

func (v memView) createBooking(b *market.Booking) error {
	if _, ok := v.d.bookings[b.ID]; ok {
		return duplicate("booking", b.ID, "id already exists")
	}
	b.Version = 1
	v.d.bookings[b.ID] = *b
	return nil
}

func (v memView) getBooking(id string) (*market.Booking, error) {
	b, ok := v.d.bookings[id]
	if !ok {
		return nil, notFound("booking", id)
	}
	return &b, nil
}

func (v memView) listBookings(f BookingFilter) []*market.Booking {
	var out []*market.Booking
	for _, b := range v.d.bookings {
		if f.CustomerID != "" && b.CustomerID != f.CustomerID {
			continue
		}
		if f.ProviderID != "" && b.ProviderID != f.ProviderID {
			continue
		}
		if f.Date != nil && b.BookingDate != *f.Date {
			continue
		}
		if !hasBookingStatus(f.Statuses, b.Status) {
			continue
		}
		b := b
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].BookingDate.Compare(out[j].BookingDate); c != 0 {
			return c > 0
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v memView) updateBooking(b *market.Booking) error {
	cur, ok := v.d.bookings[b.ID]
	if !ok {
		return notFound("booking", b.ID)
	}
	if cur.Version != b.Version {
		return conflict("booking", b.ID)
	}
	b.Version++
	v.d.bookings[b.ID] = *b
	return nil
}

func (v memView) createOffering(o *market.ServiceOffering) error {
	if _, ok := v.d.offerings[o.ID]; ok {
		return duplicate("offering", o.ID, "id already exists")
	}
	for _, other := range v.d.offerings {
		if other.ProviderID == o.ProviderID && other.ServiceID == o.ServiceID {
			return duplicate("offering", other.ID, "provider already offers this service")
		}
	}
	o.Version = 1
	v.d.offerings[o.ID] = *o
	return nil
}

func (v memView) getOffering(id string) (*market.ServiceOffering, error) {
	o, ok := v.d.offerings[id]
	if !ok {
		return nil, notFound("offering", id)
	}
	return &o, nil
}

func (v memView) listOfferings(f OfferingFilter) []*market.ServiceOffering {
	var out []*market.ServiceOffering
	for _, o := range v.d.offerings {
		if f.ProviderID != "" && o.ProviderID != f.ProviderID {
			continue
		}
		if f.ServiceID != "" && o.ServiceID != f.ServiceID {
			continue
		}
		if f.ActiveOnly && !o.IsActive {
			continue
		}
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].ServiceID < out[j].ServiceID
	})
	return out
}

func (v memView) updateOffering(o *market.ServiceOffering) error {
	cur, ok := v.d.offerings[o.ID]
	if !ok {
		return notFound("offering", o.ID)
	}
	if cur.Version != o.Version {
		return conflict("offering", o.ID)
	}
	o.Version++
	v.d.offerings[o.ID] = *o
	return nil
}

func (v memView) createSlot(s *market.AvailabilitySlot) error {
	if _, ok := v.d.slots[s.ID]; ok {
		return duplicate("slot", s.ID, "id already exists")
	}
	s.Version = 1
	v.d.slots[s.ID] = *s
	return nil
}

func (v memView) getSlot(id string) (*market.AvailabilitySlot, error) {
	s, ok := v.d.slots[id]
	if !ok {
		return nil, notFound("slot", id)
	}
	return &s, nil
}

func (v memView) listSlots(f SlotFilter) []*market.AvailabilitySlot {
	var out []*market.AvailabilitySlot
	for _, s := range v.d.slots {
		if f.ProviderID != "" && s.ProviderID != f.ProviderID {
			continue
		}
		if f.Day != nil && s.DayOfWeek != *f.Day {
			continue
		}
		if s.Removed && !f.IncludeRemoved {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v memView) updateSlot(s *market.AvailabilitySlot) error {
	cur, ok := v.d.slots[s.ID]
	if !ok {
		return notFound("slot", s.ID)
	}
	if cur.Version != s.Version {
		return conflict("slot", s.ID)
	}
	s.Version++
	v.d.slots[s.ID] = *s
	return nil
}
