// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth authenticates API callers with JWTs.
//
// Tokens are verified against a JWKS fetched from the identity provider
// and refreshed in the background, so key rotation needs no restart.
//
//	auth:
//	  enabled: true
//	  jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	  issuer: "https://auth.example.com"
//	  audience: "shiro-api"
//
// The middleware stores the validated claims in the request context. The
// rate limiter uses the subject to identify the caller.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken wraps every validation failure.
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey struct{}

// Claims are the validated claims of a token. Common identity providers
// (Auth0, Okta, Keycloak) set the named ones; anything else lands in
// Custom.
type Claims struct {
	Subject  string         `json:"sub"`
	Email    string         `json:"email,omitempty"`
	Role     string         `json:"role,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Custom   map[string]any `json:"-"`
}

// GetStringClaim returns a custom claim when it is a string.
func (c *Claims) GetStringClaim(key string) string {
	s, _ := c.Custom[key].(string)
	return s
}

// ClaimsFromContext returns the claims of an authenticated request, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}

func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}
