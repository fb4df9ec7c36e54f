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

// Package config defines the Shiro configuration and loads it from a
// provider.
//
// A configuration is YAML (or JSON). Strings may reference the environment
// with ${VAR}, ${VAR:-default} or $VAR. Every section has SetDefaults and
// Validate; Loader.Load applies both before returning.
//
//	server:
//	  port: 8000
//	llm:
//	  provider: openai
//	  model: gpt-4o
//	integrations:
//	  gmail:
//	    mcp:
//	      url: ${GMAIL_MCP_URL}
package config

import (
	"fmt"

	"github.com/shiroai/shiro/pkg/observability"
)

// Config is the root configuration.
type Config struct {
	Server ServerConfig `yaml:"server,omitempty"`

	LLM LLMConfig `yaml:"llm,omitempty"`

	// Coordinator configures the root agent.
	Coordinator CoordinatorConfig `yaml:"coordinator,omitempty"`

	// Integrations overrides built-in services by key (gmail, slack, ...)
	// and adds custom ones under new keys.
	Integrations map[string]*IntegrationConfig `yaml:"integrations,omitempty"`

	Runner RunnerConfig `yaml:"runner,omitempty"`

	Session SessionConfig `yaml:"session,omitempty"`

	Auth AuthConfig `yaml:"auth,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`

	Logger LoggerConfig `yaml:"logger,omitempty"`

	Observability observability.Config `yaml:"observability,omitempty"`
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Coordinator.SetDefaults()
	for key, ic := range c.Integrations {
		if ic == nil {
			ic = &IntegrationConfig{}
			c.Integrations[key] = ic
		}
		ic.SetDefaults()
	}
	c.Runner.SetDefaults()
	c.Session.SetDefaults()
	c.Auth.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	for key, ic := range c.Integrations {
		if err := ic.Validate(); err != nil {
			return fmt.Errorf("integrations.%s: %w", key, err)
		}
	}
	if err := c.Runner.Validate(); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue returns the value of b, or def when b is nil.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
