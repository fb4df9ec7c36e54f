// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/shiroai/shiro/pkg/auth"
)

// Identity is the client a request is charged to.
type Identity struct {
	Scope Scope
	ID    string
}

type identityKey struct{}

// IdentityFromContext returns the identity the middleware charged, so
// handlers can record token usage against it.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Identify returns the identity of r under scope. ScopeUser uses the JWT
// subject when the auth middleware stored claims.
func Identify(r *http.Request, scope Scope) Identity {
	if scope == ScopeUser {
		if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "" {
			return Identity{Scope: ScopeUser, ID: claims.Subject}
		}
	}
	return Identity{Scope: ScopeIP, ID: clientIP(r)}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware charges one request to the caller and answers 429 when a
// limit is used up. Store failures let the request through. A nil limiter
// disables the middleware.
func Middleware(limiter *Limiter, excludedPaths ...string) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	excluded := make(map[string]bool, len(excludedPaths))
	for _, p := range excludedPaths {
		excluded[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			id := Identify(r, limiter.Scope())
			result, err := limiter.Allow(r.Context(), id.Scope, id.ID)
			if result == nil {
				slog.Error("Rate limit check failed", "error", err, "client", id.ID)
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, result)
			if err != nil {
				slog.Info("Rate limit exceeded", "client", id.ID, "reason", result.Reason)
				writeLimited(w, result)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeLimited(w http.ResponseWriter, result *CheckResult) {
	seconds := int64(result.RetryAfter.Seconds())
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"detail":              result.Reason,
		"retry_after_seconds": seconds,
	})
}

// setHeaders reports the rule closest to its limit.
func setHeaders(w http.ResponseWriter, result *CheckResult) {
	u := result.mostRestrictive()
	if u == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(u.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(u.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(u.WindowEnd.Unix(), 10))
}
