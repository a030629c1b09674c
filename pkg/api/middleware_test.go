package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	defer limiter.Close()
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remote string, actor *market.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/search/tasks", nil)
		req.RemoteAddr = remote
		if actor != nil {
			req = req.WithContext(WithActor(req.Context(), *actor))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, call("10.0.0.1:5000", nil).Code, "within burst")
	}
	w := call("10.0.0.1:5001", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "same IP, new port")
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("10.0.0.2:5000", nil).Code, "other IPs have their own bucket")

	pat := market.Actor{ID: "pat", Type: market.UserProvider}
	assert.Equal(t, http.StatusOK, call("10.0.0.1:5002", &pat).Code, "authenticated callers are keyed by actor")
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "ip:::1", ClientKey(req))

	req.RemoteAddr = "[::1]"
	assert.Equal(t, "ip:::1", ClientKey(req))

	req = req.WithContext(WithActor(req.Context(), market.Actor{ID: "alice", Type: market.UserCustomer}))
	assert.Equal(t, "actor:alice", ClientKey(req))
}
