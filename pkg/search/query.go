package search

import (
	"fmt"
	"iter"
	"time"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

// SortKey selects the result ordering.
type SortKey string

const (
	SortNewest    SortKey = "newest"
	SortPriceLow  SortKey = "price_low"
	SortPriceHigh SortKey = "price_high"
	SortRating    SortKey = "rating"
)

func (k SortKey) Valid() bool {
	switch k {
	case SortNewest, SortPriceLow, SortPriceHigh, SortRating:
		return true
	}
	return false
}

// WindowPreset names a date window relative to today. Weeks run Monday
// through Sunday.
type WindowPreset string

const (
	Anytime  WindowPreset = "anytime"
	Today    WindowPreset = "today"
	Tomorrow WindowPreset = "tomorrow"
	ThisWeek WindowPreset = "this-week"
	NextWeek WindowPreset = "next-week"
)

// DateWindow is an inclusive range of calendar days.
type DateWindow struct {
	From market.Date `json:"from"`
	To   market.Date `json:"to"`
}

// Contains reports whether d falls inside the window.
func (w DateWindow) Contains(d market.Date) bool {
	return !d.Before(w.From) && !d.After(w.To)
}

// Weekdays returns the distinct weekdays the window spans.
func (w DateWindow) Weekdays() map[time.Weekday]bool {
	out := make(map[time.Weekday]bool, 7)
	for d := w.From; !d.After(w.To) && len(out) < 7; d = d.AddDays(1) {
		out[d.Weekday()] = true
	}
	return out
}

// Resolve turns a preset into a concrete window. Anytime and the empty
// preset resolve to nil, meaning no date restriction.
func (p WindowPreset) Resolve(today market.Date) (*DateWindow, error) {
	// Days since Monday, with Sunday as the last day of the week.
	offset := (int(today.Weekday()) + 6) % 7
	sunday := today.AddDays(6 - offset)
	switch p {
	case "", Anytime:
		return nil, nil
	case Today:
		return &DateWindow{From: today, To: today}, nil
	case Tomorrow:
		t := today.AddDays(1)
		return &DateWindow{From: t, To: t}, nil
	case ThisWeek:
		return &DateWindow{From: today, To: sunday}, nil
	case NextWeek:
		return &DateWindow{From: sunday.AddDays(1), To: sunday.AddDays(7)}, nil
	}
	return nil, fmt.Errorf("unknown date window %q", string(p))
}

// Query is a browse request. Every non-empty filter must match.
type Query struct {
	// FreeText matches case-insensitively against title or description.
	FreeText string `json:"q,omitempty"`
	// CategoryID is a task category, or a service id when searching providers.
	CategoryID string      `json:"category,omitempty"`
	Location   string      `json:"location,omitempty"`
	Window     *DateWindow `json:"window,omitempty"`
	Sort       SortKey     `json:"sort,omitempty"`
	// Where is an optional CEL predicate over the candidate, bound as
	// "task" or "provider".
	Where string `json:"where,omitempty"`
}

// TaskMatch is an open task with the data the browse page shows next to it.
type TaskMatch struct {
	Task         *market.Task    `json:"task"`
	Poster       *market.Profile `json:"poster,omitempty"`
	Applications int             `json:"applications"`
	Price        int64           `json:"price"`
}

// ProviderMatch is an active offering with its provider's profile.
type ProviderMatch struct {
	Offering *market.ServiceOffering  `json:"offering"`
	Service  market.ServiceDefinition `json:"service"`
	Profile  *market.Profile          `json:"profile,omitempty"`
}

// Results is a finite ordered result set. All may be ranged over any
// number of times.
type Results[T any] struct {
	items []T
}

func (r *Results[T]) Len() int { return len(r.items) }

func (r *Results[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, it := range r.items {
			if !yield(it) {
				return
			}
		}
	}
}

// Window returns up to limit results starting at offset. A limit of zero or
// less means no limit.
func (r *Results[T]) Window(offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(r.items) {
		return []T{}
	}
	end := len(r.items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, r.items[offset:end])
	return out
}
