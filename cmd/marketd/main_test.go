package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/marketplace/pkg/config"
	"github.com/Mindburn-Labs/marketplace/pkg/identity"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

func liteConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("MARKET_POLICY_FILE", "")
	t.Setenv("JWT_ISSUER", "")
	dir := t.TempDir()
	t.Setenv("LITE_DB_PATH", filepath.Join(dir, "market.db"))
	t.Setenv("JWT_KEY_FILE", filepath.Join(dir, "signing.key"))
	return config.Load()
}

func TestServeChain(t *testing.T) {
	cfg := liteConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close(ctx)

	keys, err := identity.LoadKeyFile(cfg.KeyFile)
	require.NoError(t, err)
	tokens := identity.NewTokenManager(keys, identity.WithIssuer(cfg.JWTIssuer))

	h, closeHandler, err := buildHandler(a, cfg, tokens)
	require.NoError(t, err)
	defer closeHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	body := `{"title": "Hang pictures", "category_id": "Home Improvement", "location": "Springfield"}`
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/tasks", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := tokens.Issue(ctx, market.Actor{ID: "alice", Type: market.UserCustomer}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/tasks", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/search/tasks?q=pictures", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestTokenCommand(t *testing.T) {
	cfg := liteConfig(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--user", "pat", "--type", "provider", "--ttl", "1h"})
	require.NoError(t, rootCmd.Execute())

	keys, err := identity.LoadKeyFile(cfg.KeyFile)
	require.NoError(t, err)
	claims, err := identity.NewTokenManager(keys).Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	actor, err := claims.Actor()
	require.NoError(t, err)
	assert.Equal(t, market.Actor{ID: "pat", Type: market.UserProvider}, actor)
}
