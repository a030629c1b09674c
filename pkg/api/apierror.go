// Package api is the HTTP transport of the marketplace: RFC 7807 problem
// responses, request validation, rate limiting and the JSON handlers.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

const problemTypeBase = "https://marketplace.local/errors/"

// ProblemDetail implements RFC 7807. Every error response uses it.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Kind is the marketplace error kind, when the problem came from one.
	Kind    string `json:"kind,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem response without request context.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("%s%d", problemTypeBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR is WriteError enriched with the request path and the
// X-Request-ID already set on the response.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     fmt.Sprintf("%s%d", problemTypeBase, status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(k market.Kind) int {
	switch k {
	case market.KindNotFound:
		return http.StatusNotFound
	case market.KindNotOwner:
		return http.StatusForbidden
	case market.KindInvalidTransition, market.KindOverlap, market.KindSlotInUse,
		market.KindConflict, market.KindDuplicate:
		return http.StatusConflict
	case market.KindInvalidRate, market.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case market.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// WriteMarketError writes err as a problem response. Errors without a known
// kind become a 500 whose detail never reaches the client.
func WriteMarketError(w http.ResponseWriter, r *http.Request, err error) {
	kind := market.KindOf(err)
	status := StatusFor(kind)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "internal server error", "path", r.URL.Path, "error", err)
		WriteErrorR(w, r, status, "Internal Server Error", "An unexpected error occurred. Please try again later.")
		return
	}
	writeProblem(w, &ProblemDetail{
		Type:     problemTypeBase + strings.ReplaceAll(kind.String(), " ", "-"),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   err.Error(),
		Instance: r.URL.Path,
		Kind:     kind.String(),
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal logs err and writes a generic 500.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
