package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware authenticates requests with v. Paths in excluded and CORS
// preflights skip it. When requireAuth is false a request without a token
// proceeds anonymously, but a bad token is still rejected.
func Middleware(v TokenValidator, requireAuth bool, excluded ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(excluded))
	for _, p := range excluded {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, err := bearerToken(r)
			if errors.Is(err, ErrMissingToken) && !requireAuth {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}

			claims, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				slog.Debug("Token rejected", "path", r.URL.Path, "error", err)
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid Authorization header, expected: Bearer <token>")
	}
	return strings.TrimSpace(token), nil
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="shiro"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
