// Package lifecycle owns the task and booking state machines. Every
// transition is a read-check-write on the store's versioned records, run
// through an operation.Runner so that a lost race surfaces as Conflict after
// one fresh retry.
package lifecycle

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/marketplace/pkg/lock"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

// DefaultTaskPrice is the comparable price, in minor units, of a task
// without a budget.
const DefaultTaskPrice int64 = 5000

type Engine struct {
	store  store.Store
	locks  lock.Locker
	run    *operation.Runner
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	categories   map[string]bool
	defaultPrice int64
}

type Option func(*Engine)

// WithClock overrides the time source used for timestamps and "today".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCategories restricts PostTask to the given category ids.
func WithCategories(ids []string) Option {
	return func(e *Engine) {
		e.categories = make(map[string]bool, len(ids))
		for _, id := range ids {
			e.categories[id] = true
		}
	}
}

func WithDefaultPrice(p int64) Option {
	return func(e *Engine) {
		if p > 0 {
			e.defaultPrice = p
		}
	}
}

func New(s store.Store, l lock.Locker, r *operation.Runner, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		locks:        l,
		run:          r,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       slog.Default().With("component", "lifecycle"),
		defaultPrice: DefaultTaskPrice,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) today() market.Date {
	return market.DateOf(e.now())
}

func notOwner(op, entity, id, detail string) error {
	return &market.Error{Kind: market.KindNotOwner, Op: op, Entity: entity, ID: id, Detail: detail}
}

func invalidTransition[S ~string](op, entity, id string, from, to S) error {
	return &market.Error{
		Kind: market.KindInvalidTransition, Op: op, Entity: entity, ID: id,
		Detail: fmt.Sprintf("%s -> %s", from, to),
	}
}

func invalidInput(op, format string, args ...any) error {
	return market.Errorf(market.KindInvalidInput, op, format, args...)
}
