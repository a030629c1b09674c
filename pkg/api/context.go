package api

import (
	"context"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

type actorKey struct{}

// WithActor attaches the authenticated actor to ctx.
func WithActor(ctx context.Context, a market.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor the auth middleware attached, if any.
func ActorFrom(ctx context.Context) (market.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(market.Actor)
	return a, ok && a.ID != ""
}
