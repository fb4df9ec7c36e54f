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

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/shiroai/shiro/pkg/config"
)

// TokenValidator turns a raw token into claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

type JWTValidatorConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string

	// RefreshInterval is the minimum time between JWKS fetches.
	// Default: 15m
	RefreshInterval time.Duration
}

// JWTValidator verifies tokens against a cached, auto-refreshed JWKS.
type JWTValidator struct {
	cfg    JWTValidatorConfig
	cache  *jwk.Cache
	cancel context.CancelFunc
}

// NewJWTValidator registers the JWKS URL and fetches it once, so a bad URL
// fails at startup rather than on the first request.
func NewJWTValidator(ctx context.Context, cfg JWTValidatorConfig) (*JWTValidator, error) {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}

	// The cache refreshes in a goroutine bound to this context.
	cacheCtx, cancel := context.WithCancel(context.Background())
	cache := jwk.NewCache(cacheCtx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{cfg: cfg, cache: cache, cancel: cancel}, nil
}

// NewValidatorFromConfig returns nil when auth is disabled.
func NewValidatorFromConfig(ctx context.Context, cfg *config.AuthConfig) (*JWTValidator, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	return NewJWTValidator(ctx, JWTValidatorConfig{
		JWKSURL:         cfg.JWKSURL,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		RefreshInterval: cfg.RefreshInterval,
	})
}

// ValidateToken checks signature, expiry, issuer and audience.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}
	for key, value := range token.PrivateClaims() {
		switch key {
		case "email":
			claims.Email, _ = value.(string)
		case "role":
			claims.Role, _ = value.(string)
		case "tenant_id":
			claims.TenantID, _ = value.(string)
		default:
			claims.Custom[key] = value
		}
	}
	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *JWTValidator) Close() {
	v.cancel()
}
