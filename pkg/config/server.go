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

package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

type ServerConfig struct {
	// Host to bind to.
	// Default: 0.0.0.0
	Host string `yaml:"host,omitempty"`

	// Port to listen on.
	// Default: 8000
	Port int `yaml:"port,omitempty"`

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// MaxBodyBytes limits request bodies.
	// Default: 4 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes,omitempty"`

	// CORS configuration. The API is called from browsers, so CORS is on
	// unless disabled.
	CORS *CORSConfig `yaml:"cors,omitempty"`
}

type CORSConfig struct {
	// Enabled turns CORS headers on.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// AllowedOrigins lists the accepted origins. "*" accepts any.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// AllowedMethods lists the accepted methods.
	// Default: GET, POST, OPTIONS
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`

	// AllowedHeaders lists the accepted request headers.
	// Default: ["*"]
	AllowedHeaders []string `yaml:"allowed_headers,omitempty"`

	// AllowCredentials sets Access-Control-Allow-Credentials.
	AllowCredentials bool `yaml:"allow_credentials,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 4 << 20
	}
	if c.CORS == nil {
		c.CORS = &CORSConfig{}
	}
	c.CORS.SetDefaults()
}

func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be non-negative")
	}
	return nil
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *CORSConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"*"}
	}
}

func (c *CORSConfig) IsEnabled() bool {
	return c != nil && BoolValue(c.Enabled, true)
}
