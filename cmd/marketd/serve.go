package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/marketplace/pkg/api"
	"github.com/Mindburn-Labs/marketplace/pkg/auth"
	"github.com/Mindburn-Labs/marketplace/pkg/config"
	"github.com/Mindburn-Labs/marketplace/pkg/identity"
)

var (
	expireEvery    time.Duration
	idempotencyTTL time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the marketplace HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&expireEvery, "expire-every", 0, "Expire stale pending bookings on this interval (0 disables)")
	serveCmd.Flags().DurationVar(&idempotencyTTL, "idempotency-ttl", 24*time.Hour, "How long Idempotency-Key responses are replayed")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	keys, err := identity.LoadKeyFile(cfg.KeyFile)
	if err != nil {
		return err
	}
	tokens := identity.NewTokenManager(keys, identity.WithIssuer(cfg.JWTIssuer))

	handler, closeHandler, err := buildHandler(a, cfg, tokens)
	if err != nil {
		return err
	}
	defer closeHandler()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if expireEvery > 0 {
		go expireLoop(ctx, a, expireEvery)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "marketd ready", "addr", srv.Addr, "lite_mode", cfg.LiteMode())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("marketd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// buildHandler assembles the middleware chain around the API routes.
func buildHandler(a *app, cfg *config.Config, tokens *identity.TokenManager) (http.Handler, func(), error) {
	validator, err := api.NewValidator()
	if err != nil {
		return nil, nil, err
	}
	srv := &api.Server{
		Lifecycle:    a.lifecycle,
		Availability: a.availability,
		Catalog:      a.catalog,
		Search:       a.search,
		Onboarding:   a.onboarding,
		Validator:    validator,
	}

	var idem api.IdempotencyStore = api.NewMemoryIdempotencyStore(idempotencyTTL)
	if a.redis != nil {
		idem = api.NewRedisIdempotencyStore(a.redis, idempotencyTTL)
	}
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	var h http.Handler = srv.Routes()
	h = api.IdempotencyMiddleware(idem)(h)
	h = limiter.Middleware(h)
	h = auth.NewMiddleware(tokens, api.PublicPaths...)(h)
	h = auth.CORSMiddleware(cfg.CORSOrigins)(h)
	h = auth.RequestIDMiddleware(h)
	return h, limiter.Close, nil
}

func expireLoop(ctx context.Context, a *app, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.lifecycle.ExpireStalePending(ctx)
			if err != nil {
				slog.WarnContext(ctx, "expire pending bookings failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "expired pending bookings", "count", n)
			}
		}
	}
}
