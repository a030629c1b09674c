// Package operation runs marketplace operations under a deadline, with a
// single retry on version conflicts, tracing and structured logging.
package operation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/observability"
)

const DefaultTimeout = 5 * time.Second

// Runner wraps every externally visible operation. A Runner is safe for
// concurrent use.
type Runner struct {
	timeout time.Duration
	retries int
	obs     *observability.Provider
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithConflictRetries sets how many times an attempt that failed with
// KindConflict is re-run from scratch. Default is 1.
func WithConflictRetries(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.retries = n
		}
	}
}

func WithObservability(p *observability.Provider) Option {
	return func(r *Runner) { r.obs = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		timeout: DefaultTimeout,
		retries: 1,
		logger:  slog.Default().With("component", "operation"),
	}
	for _, o := range opts {
		o(r)
	}
	if r.obs == nil {
		r.obs, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	return r
}

// Run executes fn under the runner's deadline. fn must perform its whole
// read-check-write sequence, since a conflicting attempt is repeated.
// Errors are normalised so an expired deadline surfaces as KindTimeout.
func (r *Runner) Run(ctx context.Context, op string, actor market.Actor, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	attrs := observability.OperationAttrs(op, actor)
	ctx, finish := r.obs.TrackOperation(ctx, op, attrs...)

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || market.KindOf(err) != market.KindConflict || attempt >= r.retries {
			break
		}
		if ctx.Err() != nil {
			break
		}
		r.obs.RecordRetry(ctx, attrs...)
		r.logger.DebugContext(ctx, "retrying after conflict", "op", op, "attempt", attempt+1, "error", err)
	}

	if err != nil && market.KindOf(err) == market.KindUnknown && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// some drivers report an interrupted query without wrapping the deadline
		err = &market.Error{Kind: market.KindTimeout, Op: op, Err: err}
	}
	err = market.Normalize(op, err)
	var me *market.Error
	if errors.As(err, &me) && me.Op == "" {
		me.Op = op
	}
	finish(err)

	if err != nil {
		level := slog.LevelDebug
		if k := market.KindOf(err); k == market.KindUnknown || k == market.KindTimeout {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "operation failed", "op", op, "actor", actor.ID, "error", err)
	}
	return err
}

// Call is Run for operations that produce a value.
func Call[T any](ctx context.Context, r *Runner, op string, actor market.Actor, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Run(ctx, op, actor, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
