// Package market holds the marketplace entities, their state graphs, the
// error taxonomy and the pure projections dashboards are built from.
package market

import "time"

// Actor is the authenticated identity an operation runs on behalf of.
type Actor struct {
	ID   string   `json:"id"`
	Type UserType `json:"user_type"`
}

func (a Actor) IsCustomer() bool { return a.Type == UserCustomer }
func (a Actor) IsProvider() bool { return a.Type == UserProvider }

// Profile is the public record kept for each user.
type Profile struct {
	ID          string    `json:"id"`
	UserType    UserType  `json:"user_type"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Location    string    `json:"location,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	Rating      float64   `json:"rating"`
	ReviewCount int       `json:"review_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task is a job posted by a customer. Amounts are in currency minor units.
type Task struct {
	ID                 string      `json:"id"`
	CustomerID         string      `json:"customer_id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	CategoryID         string      `json:"category_id"`
	Location           string      `json:"location"`
	BudgetMin          *int64      `json:"budget_min,omitempty"`
	BudgetMax          *int64      `json:"budget_max,omitempty"`
	PricingType        PricingType `json:"pricing_type"`
	Urgent             bool        `json:"urgent"`
	Status             TaskStatus  `json:"status"`
	AssignedProviderID string      `json:"assigned_provider_id,omitempty"`
	ScheduledFor       *Date       `json:"scheduled_for,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	Version            int64       `json:"version"`
}

// Price is the comparable price of a task: BudgetMax, else BudgetMin, else fallback.
func (t *Task) Price(fallback int64) int64 {
	switch {
	case t.BudgetMax != nil:
		return *t.BudgetMax
	case t.BudgetMin != nil:
		return *t.BudgetMin
	default:
		return fallback
	}
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	if t.BudgetMin != nil {
		v := *t.BudgetMin
		c.BudgetMin = &v
	}
	if t.BudgetMax != nil {
		v := *t.BudgetMax
		c.BudgetMax = &v
	}
	if t.ScheduledFor != nil {
		v := *t.ScheduledFor
		c.ScheduledFor = &v
	}
	return &c
}

// Application is a provider's bid on an open task.
type Application struct {
	ID         string            `json:"id"`
	TaskID     string            `json:"task_id"`
	ProviderID string            `json:"provider_id"`
	Message    string            `json:"message,omitempty"`
	Status     ApplicationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	Version    int64             `json:"version"`
}

// Booking is a concrete, priced engagement on a specific date and window.
type Booking struct {
	ID           string        `json:"id"`
	CustomerID   string        `json:"customer_id"`
	ProviderID   string        `json:"provider_id"`
	ServiceID    string        `json:"service_id"`
	OfferingID   string        `json:"offering_id"`
	TaskID       string        `json:"task_id,omitempty"`
	BookingDate  Date          `json:"booking_date"`
	StartTime    TimeOfDay     `json:"start_time"`
	EndTime      TimeOfDay     `json:"end_time"`
	Location     string        `json:"location"`
	Status       BookingStatus `json:"status"`
	PricingType  PricingType   `json:"pricing_type"`
	TotalAmount  int64         `json:"total_amount"`
	Description  string        `json:"description,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Version      int64         `json:"version"`
}

func (b *Booking) Window() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

// HasParty reports whether the actor is the customer or provider of b.
func (b *Booking) HasParty(actorID string) bool {
	return actorID == b.CustomerID || actorID == b.ProviderID
}

// ServiceOffering is a provider's published service and hourly rate.
type ServiceOffering struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	ServiceID   string    `json:"service_id"`
	HourlyRate  int64     `json:"hourly_rate"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

// AvailabilitySlot is a weekly recurring window a provider can be booked in.
// Removed slots are kept for history and ignored everywhere else.
type AvailabilitySlot struct {
	ID          string       `json:"id"`
	ProviderID  string       `json:"provider_id"`
	DayOfWeek   time.Weekday `json:"day_of_week"`
	StartTime   TimeOfDay    `json:"start_time"`
	EndTime     TimeOfDay    `json:"end_time"`
	IsAvailable bool         `json:"is_available"`
	Removed     bool         `json:"removed,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Version     int64        `json:"version"`
}

func (s *AvailabilitySlot) Window() Interval {
	return Interval{Start: s.StartTime, End: s.EndTime}
}

// Bookable reports whether the slot can currently accept bookings.
func (s *AvailabilitySlot) Bookable() bool {
	return s.IsAvailable && !s.Removed
}

// ValidWeekday reports whether d is in 0 (Sunday) .. 6 (Saturday).
func ValidWeekday(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday
}

// ServiceDefinition is a kind of service providers can offer.
type ServiceDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// DefaultServices is the built-in service list used when no policy file
// overrides it.
func DefaultServices() []ServiceDefinition {
	return []ServiceDefinition{
		{ID: "handyman", Name: "Handyman", Description: "Home repairs, maintenance, and improvements"},
		{ID: "housekeeper", Name: "Housekeeper", Description: "House cleaning and organization services"},
		{ID: "surf-instructor", Name: "Surf Instructor", Description: "Surfing lessons and water sports coaching"},
		{ID: "photographer", Name: "Photographer", Description: "Photography services for events and portraits"},
	}
}

// DefaultCategories lists the task categories customers can post under.
func DefaultCategories() []string {
	return []string{
		"Furniture Assembly", "Moving", "Tech Support", "Home Improvement",
		"Errands", "Creative Services", "Cleaning", "Delivery",
	}
}
