package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mindburn-Labs/marketplace/pkg/api"
	"github.com/Mindburn-Labs/marketplace/pkg/auth"
	"github.com/Mindburn-Labs/marketplace/pkg/identity"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

var public = []string{"/health", "/api/v1/search/"}

func setupTokens(t *testing.T) *identity.TokenManager {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	if err != nil {
		t.Fatalf("failed to create keyset: %v", err)
	}
	return identity.NewTokenManager(ks)
}

func issue(t *testing.T, tm *identity.TokenManager, a market.Actor) string {
	t.Helper()
	tok, err := tm.Issue(context.Background(), a, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return tok
}

// captureActor records the actor the middleware attached.
func captureActor(got *market.Actor, seen *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, *seen = api.ActorFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidJWT(t *testing.T) {
	tm := setupTokens(t)
	alice := market.Actor{ID: "alice", Type: market.UserCustomer}

	var got market.Actor
	var seen bool
	handler := auth.NewMiddleware(tm, public...)(captureActor(&got, &seen))

	req := httptest.NewRequest("GET", "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, tm, alice))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !seen || got != alice {
		t.Errorf("expected actor %+v, got %+v (seen=%v)", alice, got, seen)
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	tm := setupTokens(t)
	foreign := setupTokens(t)
	pat := market.Actor{ID: "pat", Type: market.UserProvider}

	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"missing header", "", "Missing Authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Invalid Authorization header format"},
		{"garbage token", "Bearer not-a-jwt", "Invalid or expired token"},
		{"foreign signer", "Bearer " + issue(t, foreign, pat), "Invalid or expired token"},
	}
	handler := auth.NewMiddleware(tm, public...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/slots", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), tc.detail) {
				t.Errorf("expected detail %q in %s", tc.detail, w.Body.String())
			}
		})
	}
}

func TestMiddleware_PublicPaths(t *testing.T) {
	tm := setupTokens(t)
	pat := market.Actor{ID: "pat", Type: market.UserProvider}

	var got market.Actor
	var seen bool
	handler := auth.NewMiddleware(tm, public...)(captureActor(&got, &seen))

	for _, path := range []string{"/health", "/api/v1/search/tasks"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK || seen {
			t.Errorf("%s: expected anonymous 200, got %d (seen=%v)", path, w.Code, seen)
		}
	}

	req := httptest.NewRequest("GET", "/api/v1/search/providers", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, tm, pat))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !seen || got != pat {
		t.Errorf("expected public path to identify the caller, got %d %+v", w.Code, got)
	}

	// "/healthz" is not "/health" and "/health" is not a prefix entry.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for /healthz, got %d", w.Code)
	}
}

func TestMiddleware_NilManagerFailsClosed(t *testing.T) {
	handler := auth.NewMiddleware(nil, public...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected public path to stay open, got %d", w.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var inCtx string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inCtx = auth.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	generated := w.Header().Get("X-Request-ID")
	if generated == "" || generated != inCtx {
		t.Errorf("expected generated id in header and context, got %q / %q", generated, inCtx)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "client-42")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") != "client-42" {
		t.Errorf("expected client id reused, got %q", w.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if len(w.Header().Get("X-Request-ID")) > 128 {
		t.Error("oversized client id must be replaced")
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := auth.CORSMiddleware([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/api/v1/tasks", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected preflight 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Error("expected allowed origin echoed")
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Error("expected Idempotency-Key in allowed headers")
	}

	req = httptest.NewRequest("GET", "/api/v1/tasks", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be echoed")
	}
}
