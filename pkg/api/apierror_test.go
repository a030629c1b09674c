package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Mindburn-Labs/marketplace/pkg/api"
	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return problem
}

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	problem := decodeProblem(t, w)
	if problem.Status != 400 || problem.Title != "Bad Request" || problem.Detail != "field is missing" {
		t.Errorf("unexpected problem %+v", problem)
	}
}

func TestWriteMarketError_KindMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{market.NotFound("op", "task", "t1"), http.StatusNotFound},
		{&market.Error{Kind: market.KindNotOwner}, http.StatusForbidden},
		{&market.Error{Kind: market.KindInvalidTransition}, http.StatusConflict},
		{&market.Error{Kind: market.KindOverlap}, http.StatusConflict},
		{&market.Error{Kind: market.KindSlotInUse}, http.StatusConflict},
		{&market.Error{Kind: market.KindConflict}, http.StatusConflict},
		{&market.Error{Kind: market.KindDuplicate}, http.StatusConflict},
		{&market.Error{Kind: market.KindInvalidRate}, http.StatusUnprocessableEntity},
		{&market.Error{Kind: market.KindInvalidInput}, http.StatusUnprocessableEntity},
		{&market.Error{Kind: market.KindTimeout}, http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("POST", "/api/v1/bookings", nil)
		w := httptest.NewRecorder()
		api.WriteMarketError(w, req, tc.err)
		if w.Code != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, w.Code)
		}
		problem := decodeProblem(t, w)
		if problem.Kind != market.KindOf(tc.err).String() {
			t.Errorf("%v: expected kind %q, got %q", tc.err, market.KindOf(tc.err), problem.Kind)
		}
		if strings.Contains(problem.Type, " ") {
			t.Errorf("problem type %q is not a URI", problem.Type)
		}
	}
}

func TestWriteMarketError_HidesUnknown(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/tasks", nil)
	w := httptest.NewRecorder()
	api.WriteMarketError(w, req, errors.New("pq: connection refused to host=10.0.0.1"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	problem := decodeProblem(t, w)
	if strings.Contains(problem.Detail, "10.0.0.1") {
		t.Error("internal error details leaked to client")
	}
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("sqlite: database is locked"))

	problem := decodeProblem(t, w)
	if strings.Contains(problem.Detail, "sqlite") {
		t.Error("internal error details leaked to client")
	}
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	if ra := w.Header().Get("Retry-After"); ra != "30" {
		t.Errorf("expected Retry-After '30', got %q", ra)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
}

func TestWriteUnauthorized_DefaultDetail(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteUnauthorized(w, "")

	if problem := decodeProblem(t, w); problem.Detail != "Authentication required" {
		t.Errorf("expected default detail, got %q", problem.Detail)
	}
}

func TestWriteErrorR_EnrichesWithRequestContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/tasks/t1", nil)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")

	api.WriteErrorR(w, req, http.StatusBadRequest, "Bad Request", "bad input")

	problem := decodeProblem(t, w)
	if problem.Instance != "/api/v1/tasks/t1" {
		t.Fatalf("expected instance %q, got %q", "/api/v1/tasks/t1", problem.Instance)
	}
	if problem.TraceID != "req-123" {
		t.Fatalf("expected trace_id %q, got %q", "req-123", problem.TraceID)
	}
}
