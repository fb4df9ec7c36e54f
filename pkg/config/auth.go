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

package config

import (
	"fmt"
	"time"
)

type AuthConfig struct {
	// Enabled controls whether JWT authentication is checked.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// JWKSURL is the URL to fetch the JSON Web Key Set from.
	// Example: "https://auth.example.com/.well-known/jwks.json"
	JWKSURL string `yaml:"jwks_url,omitempty"`

	// Issuer is the expected iss claim.
	Issuer string `yaml:"issuer,omitempty"`

	// Audience is the expected aud claim.
	Audience string `yaml:"audience,omitempty"`

	// RefreshInterval is how often to refresh the JWKS.
	// Default: 15m
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`

	// ExcludedPaths don't require authentication.
	// Default: ["/health"]
	ExcludedPaths []string `yaml:"excluded_paths,omitempty"`

	// RequireAuth when true returns 401 for missing tokens. When false,
	// anonymous requests proceed without claims.
	// Default: true
	RequireAuth *bool `yaml:"require_auth,omitempty"`
}

func (c *AuthConfig) SetDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{"/health"}
	}
	if c.RequireAuth == nil && c.Enabled {
		c.RequireAuth = BoolPtr(true)
	}
}

func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url is required when auth is enabled")
	}
	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required when auth is enabled")
	}
	if c.Audience == "" {
		return fmt.Errorf("auth.audience is required when auth is enabled")
	}
	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("auth.refresh_interval must be at least 1 minute")
	}
	return nil
}

func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled && c.JWKSURL != "" && c.Issuer != "" && c.Audience != ""
}

func (c *AuthConfig) IsRequireAuth() bool {
	return BoolValue(c.RequireAuth, c.Enabled)
}
