package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/marketplace/pkg/availability"
	"github.com/Mindburn-Labs/marketplace/pkg/catalog"
	"github.com/Mindburn-Labs/marketplace/pkg/config"
	"github.com/Mindburn-Labs/marketplace/pkg/lifecycle"
	"github.com/Mindburn-Labs/marketplace/pkg/lock"
	"github.com/Mindburn-Labs/marketplace/pkg/observability"
	"github.com/Mindburn-Labs/marketplace/pkg/onboarding"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/search"
)

// app is the wired set of marketplace components.
type app struct {
	cfg    *config.Config
	policy *config.Policy
	db     *sql.DB
	redis  *redis.Client
	obs    *observability.Provider

	lifecycle    *lifecycle.Engine
	availability *availability.Manager
	catalog      *catalog.Catalog
	search       *search.Engine
	onboarding   *onboarding.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, policy: policy}

	db, st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.db = db

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		locker = lock.NewRedisLocker(a.redis, policy.LockTTL)
		slog.InfoContext(ctx, "redis: connected", "addr", cfg.RedisAddr)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.ServiceVersion = version
	a.obs, err = observability.New(ctx, obsCfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	logger := slog.Default()
	runner := operation.NewRunner(
		operation.WithTimeout(cfg.OperationTimeout),
		operation.WithObservability(a.obs),
		operation.WithLogger(logger),
	)

	a.lifecycle = lifecycle.New(st, locker, runner,
		lifecycle.WithCategories(policy.Categories),
		lifecycle.WithDefaultPrice(policy.DefaultPrice),
		lifecycle.WithLogger(logger),
	)
	a.availability = availability.New(st, locker, runner, availability.WithLogger(logger))
	a.catalog = catalog.New(st, runner,
		catalog.WithServices(policy.Services),
		catalog.WithCategories(policy.Categories),
		catalog.WithLogger(logger),
	)
	a.search, err = search.New(st, runner,
		search.WithServices(policy.Services),
		search.WithDefaultPrice(policy.DefaultPrice),
		search.WithLogger(logger),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.onboarding = onboarding.New(st, locker, runner, a.catalog, onboarding.WithLogger(logger))
	return a, nil
}

func (a *app) close(ctx context.Context) {
	var errs []error
	if a.obs != nil {
		errs = append(errs, a.obs.Shutdown(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "shutdown incomplete", "error", err)
	}
}
