package auth

import (
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/marketplace/pkg/api"
	"github.com/Mindburn-Labs/marketplace/pkg/identity"
)

// isPublicPath reports whether path is served without a token. Entries
// ending in "/" match as prefixes.
func isPublicPath(path string, public []string) bool {
	for _, p := range public {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// NewMiddleware authenticates bearer tokens and attaches the actor to the
// request context. Public paths pass through; a valid token on a public
// path still identifies the caller.
// If tm is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(tm *identity.TokenManager, public ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			open := isPublicPath(r.URL.Path, public)

			tokenStr, ok := bearer(r)
			if !ok {
				if open {
					next.ServeHTTP(w, r)
					return
				}
				if r.Header.Get("Authorization") == "" {
					api.WriteUnauthorized(w, "Missing Authorization header")
				} else {
					api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				}
				return
			}

			if tm == nil {
				if open {
					next.ServeHTTP(w, r)
					return
				}
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := tm.Validate(tokenStr)
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			actor, err := claims.Actor()
			if err != nil {
				api.WriteUnauthorized(w, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(api.WithActor(r.Context(), actor)))
		})
	}
}
