package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is a durable Store over database/sql. Queries use $N placeholders,
// which both lib/pq and modernc.org/sqlite bind by ordinal.
type SQLStore struct {
	db *sql.DB
	q  querier
	tx bool
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		user_type TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		review_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category_id TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		budget_min BIGINT,
		budget_max BIGINT,
		pricing_type TEXT NOT NULL DEFAULT 'fixed',
		urgent BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		assigned_provider_id TEXT NOT NULL DEFAULT '',
		scheduled_for TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_customer ON tasks (customer_id)`,
	`CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_task_provider ON applications (task_id, provider_id)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		service_id TEXT NOT NULL DEFAULT '',
		offering_id TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL DEFAULT '',
		booking_date TEXT NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		pricing_type TEXT NOT NULL,
		total_amount BIGINT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_provider_date ON bookings (provider_id, booking_date)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings (customer_id)`,
	`CREATE TABLE IF NOT EXISTS offerings (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		hourly_rate BIGINT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_offerings_provider_service ON offerings (provider_id, service_id)`,
	`CREATE TABLE IF NOT EXISTS availability_slots (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		day_of_week INTEGER NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		is_available BOOLEAN NOT NULL,
		removed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slots_provider_day ON availability_slots (provider_id, day_of_week)`,
}

// Migrate creates the schema if it does not exist. It is idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(&SQLStore{db: s.db, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// --- profiles ---

const profileColumns = `id, user_type, display_name, email, phone, location, bio, rating, review_count, created_at, updated_at`

func (s *SQLStore) UpsertProfile(ctx context.Context, p *market.Profile) error {
	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			user_type = excluded.user_type,
			display_name = excluded.display_name,
			email = excluded.email,
			phone = excluded.phone,
			location = excluded.location,
			bio = excluded.bio,
			rating = excluded.rating,
			review_count = excluded.review_count,
			updated_at = excluded.updated_at
	`
	_, err := s.q.ExecContext(ctx, query,
		p.ID, string(p.UserType), p.DisplayName, p.Email, p.Phone, p.Location, p.Bio,
		p.Rating, p.ReviewCount, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

func (s *SQLStore) GetProfile(ctx context.Context, id string) (*market.Profile, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("profile", id)
	}
	return p, err
}

func (s *SQLStore) ListProfiles(ctx context.Context, ids []string) (map[string]*market.Profile, error) {
	out := make(map[string]*market.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var w where
	w.in("id", stringArgs(ids))
	rows, err := s.q.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles`+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func scanProfile(r scanner) (*market.Profile, error) {
	var (
		p                market.Profile
		userType         string
		created, updated string
	)
	if err := r.Scan(&p.ID, &userType, &p.DisplayName, &p.Email, &p.Phone, &p.Location, &p.Bio,
		&p.Rating, &p.ReviewCount, &created, &updated); err != nil {
		return nil, err
	}
	p.UserType = market.UserType(userType)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// --- tasks ---

const taskColumns = `id, customer_id, title, description, category_id, location, budget_min, budget_max, pricing_type, urgent, status, assigned_provider_id, scheduled_for, created_at, updated_at, version`

func (s *SQLStore) CreateTask(ctx context.Context, t *market.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := s.q.ExecContext(ctx, query,
		t.ID, t.CustomerID, t.Title, t.Description, t.CategoryID, t.Location,
		nullInt(t.BudgetMin), nullInt(t.BudgetMax), string(t.PricingType), t.Urgent,
		string(t.Status), t.AssignedProviderID,
		nullDate(t.ScheduledFor), formatTime(t.CreatedAt), formatTime(t.UpdatedAt), int64(1),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("task", t.ID, "id already exists")
		}
		return fmt.Errorf("store: create task: %w", err)
	}
	t.Version = 1
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*market.Task, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task", id)
	}
	return t, err
}

func (s *SQLStore) ListTasks(ctx context.Context, f TaskFilter) ([]*market.Task, error) {
	var w where
	w.eq("customer_id", f.CustomerID)
	w.eq("assigned_provider_id", f.ProviderID)
	statuses := make([]any, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	w.in("status", statuses)

	query := `SELECT ` + taskColumns + ` FROM tasks` + w.String() + ` ORDER BY created_at DESC, id ASC`
	rows, err := s.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*market.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateTask(ctx context.Context, t *market.Task) error {
	query := `UPDATE tasks SET
			title = $1, description = $2, category_id = $3, location = $4,
			budget_min = $5, budget_max = $6, pricing_type = $7, urgent = $8,
			status = $9, assigned_provider_id = $10, scheduled_for = $11,
			updated_at = $12, version = version + 1
		WHERE id = $13 AND version = $14`
	res, err := s.q.ExecContext(ctx, query,
		t.Title, t.Description, t.CategoryID, t.Location,
		nullInt(t.BudgetMin), nullInt(t.BudgetMax), string(t.PricingType), t.Urgent,
		string(t.Status), t.AssignedProviderID,
		nullDate(t.ScheduledFor), formatTime(t.UpdatedAt), t.ID, t.Version,
	)
	if err := s.checkUpdated(ctx, "tasks", "task", t.ID, res, err); err != nil {
		return err
	}
	t.Version++
	return nil
}

func scanTask(r scanner) (*market.Task, error) {
	var (
		t                    market.Task
		budgetMin, budgetMax sql.NullInt64
		pricing, status      string
		scheduled            sql.NullString
		created, updated     string
	)
	if err := r.Scan(&t.ID, &t.CustomerID, &t.Title, &t.Description, &t.CategoryID, &t.Location,
		&budgetMin, &budgetMax, &pricing, &t.Urgent, &status, &t.AssignedProviderID, &scheduled,
		&created, &updated, &t.Version); err != nil {
		return nil, err
	}
	if budgetMin.Valid {
		v := budgetMin.Int64
		t.BudgetMin = &v
	}
	if budgetMax.Valid {
		v := budgetMax.Int64
		t.BudgetMax = &v
	}
	if scheduled.Valid && scheduled.String != "" {
		d, err := market.ParseDate(scheduled.String)
		if err != nil {
			return nil, fmt.Errorf("store: task %s scheduled_for: %w", t.ID, err)
		}
		t.ScheduledFor = &d
	}
	t.PricingType = market.PricingType(pricing)
	t.Status = market.TaskStatus(status)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

// --- applications ---

const applicationColumns = `id, task_id, provider_id, message, status, created_at, version`

func (s *SQLStore) CreateApplication(ctx context.Context, a *market.Application) error {
	query := `INSERT INTO applications (` + applicationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.q.ExecContext(ctx, query,
		a.ID, a.TaskID, a.ProviderID, a.Message, string(a.Status), formatTime(a.CreatedAt), int64(1),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("application", a.ID, "provider already applied to this task")
		}
		return fmt.Errorf("store: create application: %w", err)
	}
	a.Version = 1
	return nil
}

func (s *SQLStore) GetApplication(ctx context.Context, id string) (*market.Application, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	a, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("application", id)
	}
	return a, err
}

func (s *SQLStore) ListApplications(ctx context.Context, f ApplicationFilter) ([]*market.Application, error) {
	var w where
	w.eq("task_id", f.TaskID)
	w.eq("provider_id", f.ProviderID)
	query := `SELECT ` + applicationColumns + ` FROM applications` + w.String() + ` ORDER BY created_at ASC, id ASC`
	rows, err := s.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: list applications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*market.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountApplications(ctx context.Context, taskIDs []string) (map[string]int, error) {
	out := make(map[string]int)
	if len(taskIDs) == 0 {
		return out, nil
	}
	var w where
	w.in("task_id", stringArgs(taskIDs))
	query := `SELECT task_id, COUNT(*) FROM applications` + w.String() + ` GROUP BY task_id`
	rows, err := s.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: count applications: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateApplication(ctx context.Context, a *market.Application) error {
	query := `UPDATE applications SET message = $1, status = $2, version = version + 1
		WHERE id = $3 AND version = $4`
	res, err := s.q.ExecContext(ctx, query, a.Message, string(a.Status), a.ID, a.Version)
	if err := s.checkUpdated(ctx, "applications", "application", a.ID, res, err); err != nil {
		return err
	}
	a.Version++
	return nil
}

func scanApplication(r scanner) (*market.Application, error) {
	var (
		a       market.Application
		status  string
		created string
	)
	if err := r.Scan(&a.ID, &a.TaskID, &a.ProviderID, &a.Message, &status, &created, &a.Version); err != nil {
		return nil, err
	}
	a.Status = market.ApplicationStatus(status)
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// --- bookings ---

const bookingColumns = `id, customer_id, provider_id, service_id, offering_id, task_id, booking_date, start_minute, end_minute, location, status, pricing_type, total_amount, description, cancel_reason, created_at, updated_at, version`

func (s *SQLStore) CreateBooking(ctx context.Context, b *market.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := s.q.ExecContext(ctx, query,
		b.ID, b.CustomerID, b.ProviderID, b.ServiceID, b.OfferingID, b.TaskID,
		b.BookingDate.String(), int(b.StartTime), int(b.EndTime), b.Location,
		string(b.Status), string(b.PricingType), b.TotalAmount, b.Description, b.CancelReason,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt), int64(1),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("booking", b.ID, "id already exists")
		}
		return fmt.Errorf("store: create booking: %w", err)
	}
	b.Version = 1
	return nil
}

func (s *SQLStore) GetBooking(ctx context.Context, id string) (*market.Booking, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("booking", id)
	}
	return b, err
}

func (s *SQLStore) ListBookings(ctx context.Context, f BookingFilter) ([]*market.Booking, error) {
	var w where
	w.eq("customer_id", f.CustomerID)
	w.eq("provider_id", f.ProviderID)
	if f.Date != nil {
		w.eq("booking_date", f.Date.String())
	}
	statuses := make([]any, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	w.in("status", statuses)

	query := `SELECT ` + bookingColumns + ` FROM bookings` + w.String() +
		` ORDER BY booking_date DESC, start_minute ASC, id ASC`
	rows, err := s.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: list bookings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*market.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateBooking(ctx context.Context, b *market.Booking) error {
	query := `UPDATE bookings SET
			status = $1, total_amount = $2, description = $3, cancel_reason = $4,
			location = $5, updated_at = $6, version = version + 1
		WHERE id = $7 AND version = $8`
	res, err := s.q.ExecContext(ctx, query,
		string(b.Status), b.TotalAmount, b.Description, b.CancelReason,
		b.Location, formatTime(b.UpdatedAt), b.ID, b.Version,
	)
	if err := s.checkUpdated(ctx, "bookings", "booking", b.ID, res, err); err != nil {
		return err
	}
	b.Version++
	return nil
}

func scanBooking(r scanner) (*market.Booking, error) {
	var (
		b                market.Booking
		date             string
		start, end       int
		status, pricing  string
		created, updated string
	)
	if err := r.Scan(&b.ID, &b.CustomerID, &b.ProviderID, &b.ServiceID, &b.OfferingID, &b.TaskID,
		&date, &start, &end, &b.Location, &status, &pricing, &b.TotalAmount,
		&b.Description, &b.CancelReason, &created, &updated, &b.Version); err != nil {
		return nil, err
	}
	d, err := market.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("store: booking %s date: %w", b.ID, err)
	}
	b.BookingDate = d
	b.StartTime = market.TimeOfDay(start)
	b.EndTime = market.TimeOfDay(end)
	b.Status = market.BookingStatus(status)
	b.PricingType = market.PricingType(pricing)
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	return &b, nil
}

// --- offerings ---

const offeringColumns = `id, provider_id, service_id, hourly_rate, description, is_active, created_at, updated_at, version`

func (s *SQLStore) CreateOffering(ctx context.Context, o *market.ServiceOffering) error {
	query := `INSERT INTO offerings (` + offeringColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.q.ExecContext(ctx, query,
		o.ID, o.ProviderID, o.ServiceID, o.HourlyRate, o.Description, o.IsActive,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt), int64(1),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("offering", o.ID, "provider already offers this service")
		}
		return fmt.Errorf("store: create offering: %w", err)
	}
	o.Version = 1
	return nil
}

func (s *SQLStore) GetOffering(ctx context.Context, id string) (*market.ServiceOffering, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+offeringColumns+` FROM offerings WHERE id = $1`, id)
	o, err := scanOffering(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("offering", id)
	}
	return o, err
}

func (s *SQLStore) ListOfferings(ctx context.Context, f OfferingFilter) ([]*market.ServiceOffering, error) {
	var w where
	w.eq("provider_id", f.ProviderID)
	w.eq("service_id", f.ServiceID)
	if f.ActiveOnly {
		w.add("is_active = " + w.arg(true))
	}
	query := `SELECT ` + offeringColumns + ` FROM offerings` + w.String() + ` ORDER BY provider_id ASC, service_id ASC`
	rows, err := s.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: list offerings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*market.ServiceOffering
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateOffering(ctx context.Context, o *market.ServiceOffering) error {
	query := `UPDATE offerings SET
			hourly_rate = $1, description = $2, is_active = $3, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6`
	res, err := s.q.ExecContext(ctx, query,
		o.HourlyRate, o.Description, o.IsActive, formatTime(o.UpdatedAt), o.ID, o.Version,
	)
	if err := s.checkUpdated(ctx, "offerings", "offering", o.ID, res, err); err != nil {
		return err
	}
	o.Version++
	return nil
}

func scanOffering(r scanner) (*market.ServiceOffering, error) {
	var (
		o                market.ServiceOffering
		created, updated string
	)
	if err := r.Scan(&o.ID, &o.ProviderID, &o.ServiceID, &o.HourlyRate, &o.Description, &o.IsActive,
		&created, &updated, &o.Version); err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(created)
	o.UpdatedAt = parseTime(updated)
	return &o, nil
}

// --- availability slots ---

const slotColumns = `id, provider_id, day_of_week, start_minute, end_minute, is_available, removed, created_at, updated_at, version`

func (s *SQLStore) CreateSlot(ctx context.Context, sl *market.AvailabilitySlot) error {
	query := `INSERT INTO availability_slots (` + slotColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.q.ExecContext(ctx, query,
		sl.ID, sl.ProviderID, int(sl.DayOfWeek), int(sl.StartTime), int(sl.EndTime),
		sl.IsAvailable, sl.Removed, formatTime(sl.CreatedAt), formatTime(sl.UpdatedAt), int64(1),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("slot", sl.ID, "id already exists")
		}
		return fmt.Errorf("store: create slot: %w", err)
	}
	sl.Version = 1
	return nil
}

func (s *SQLStore) GetSlot(ctx context.Context, id string) (*market.AvailabilitySlot, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, id)
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("slot", id)
	}
	return sl, err
}

func (s *SQLStore) ListSlots(ctx context.Context, f SlotFilter) ([]*market.AvailabilitySlot, error) {
	var w where
	w.eq("provider_id", f.ProviderID)
	if f.Day != nil {
		w.add("day_of_week = " + w.arg(int(*f.Day)))
	}
	if !f.IncludeRemoved {
		w.add("removed = " + w.arg(false))
	}
	query := `SELECT ` + slotColumns + ` FROM availability_slots` + w.String() +
		` ORDER BY day_of_week ASC, start_minute ASC, id ASC`
	rows, err := s.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: list slots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*market.AvailabilitySlot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateSlot(ctx context.Context, sl *market.AvailabilitySlot) error {
	query := `UPDATE availability_slots SET
			start_minute = $1, end_minute = $2, is_available = $3, removed = $4,
			updated_at = $5, version = version + 1
		WHERE id = $6 AND version = $7`
	res, err := s.q.ExecContext(ctx, query,
		int(sl.StartTime), int(sl.EndTime), sl.IsAvailable, sl.Removed,
		formatTime(sl.UpdatedAt), sl.ID, sl.Version,
	)
	if err := s.checkUpdated(ctx, "availability_slots", "slot", sl.ID, res, err); err != nil {
		return err
	}
	sl.Version++
	return nil
}

func scanSlot(r scanner) (*market.AvailabilitySlot, error) {
	var (
		sl               market.AvailabilitySlot
		day, start, end  int
		created, updated string
	)
	if err := r.Scan(&sl.ID, &sl.ProviderID, &day, &start, &end, &sl.IsAvailable, &sl.Removed,
		&created, &updated, &sl.Version); err != nil {
		return nil, err
	}
	sl.DayOfWeek = time.Weekday(day)
	sl.StartTime = market.TimeOfDay(start)
	sl.EndTime = market.TimeOfDay(end)
	sl.CreatedAt = parseTime(created)
	sl.UpdatedAt = parseTime(updated)
	return &sl, nil
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

// checkUpdated turns a zero-row compare-and-set into NotFound or Conflict.
func (s *SQLStore) checkUpdated(ctx context.Context, table, entity, id string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("store: update %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update %s: %w", entity, err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(entity, id)
	}
	if err != nil {
		return fmt.Errorf("store: update %s: %w", entity, err)
	}
	return conflict(entity, id)
}

// where accumulates AND-ed predicates with ordinal placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.add(column + " = " + w.arg(value))
}

func (w *where) in(column string, values []any) {
	if len(values) == 0 {
		return
	}
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = w.arg(v)
	}
	w.add(column + " IN (" + strings.Join(ph, ", ") + ")")
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullDate(d *market.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// isUniqueViolation recognises unique-constraint failures from lib/pq and
// modernc.org/sqlite.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
