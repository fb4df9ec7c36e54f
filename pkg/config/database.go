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
	"path/filepath"
	"time"

	"github.com/shiroai/shiro/pkg/utils"
)

// StorageBackend selects where conversation sessions live.
type StorageBackend string

const (
	StorageBackendNone   StorageBackend = "none"
	StorageBackendMemory StorageBackend = "memory"
	StorageBackendSQL    StorageBackend = "sql"
	StorageBackendRedis  StorageBackend = "redis"
)

// SessionConfig configures conversation persistence keyed by session_id.
type SessionConfig struct {
	// Backend is none, memory, sql or redis.
	// Default: memory
	Backend StorageBackend `yaml:"backend,omitempty"`

	// SQL is required when Backend is sql.
	SQL *DatabaseConfig `yaml:"sql,omitempty"`

	// Redis is required when Backend is redis.
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

func (c *SessionConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StorageBackendMemory
	}
	if c.SQL != nil {
		c.SQL.SetDefaults()
	}
	if c.Redis != nil {
		c.Redis.SetDefaults()
	}
}

func (c *SessionConfig) Validate() error {
	switch c.Backend {
	case StorageBackendNone, StorageBackendMemory:
	case StorageBackendSQL:
		if c.SQL == nil {
			return fmt.Errorf("sql is required for backend %q", c.Backend)
		}
		if err := c.SQL.Validate(); err != nil {
			return fmt.Errorf("sql: %w", err)
		}
	case StorageBackendRedis:
		if c.Redis == nil {
			return fmt.Errorf("redis is required for backend %q", c.Backend)
		}
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: none, memory, sql, redis)", c.Backend)
	}
	return nil
}

// DatabaseConfig configures a SQL database.
type DatabaseConfig struct {
	// Driver is postgres, mysql or sqlite.
	Driver string `yaml:"driver"`

	// Host and Port are ignored for sqlite.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// Database is the database name, or the file path for sqlite.
	Database string `yaml:"database"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// SSLMode for postgres.
	// Default: disable
	SSLMode string `yaml:"ssl_mode,omitempty"`

	// MaxConns is the maximum number of open connections.
	// Default: 25
	MaxConns int `yaml:"max_conns,omitempty"`

	// MaxIdle is the maximum number of idle connections.
	// Default: 5
	MaxIdle int `yaml:"max_idle,omitempty"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "sqlite3" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.Database == "" {
		c.Database = filepath.Join(utils.DataDirName, "sessions.db")
	}
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.Driver == "postgres" && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite", "sqlite3":
	case "":
		return fmt.Errorf("driver is required")
	default:
		return fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Dialect() != "sqlite" && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	return nil
}

// DSN returns the driver-specific data source name.
func (c *DatabaseConfig) DSN() string {
	switch c.Dialect() {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += " user=" + c.Username
		}
		if c.Password != "" {
			dsn += " password=" + c.Password
		}
		if c.SSLMode != "" {
			dsn += " sslmode=" + c.SSLMode
		}
		return dsn
	case "mysql":
		// [username[:password]@]tcp(host:port)/dbname
		auth := ""
		if c.Username != "" {
			auth = c.Username + ":" + c.Password + "@"
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?parseTime=true", auth, c.Host, c.Port, c.Database)
	case "sqlite":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the database/sql driver name.
func (c *DatabaseConfig) DriverName() string {
	if c.Dialect() == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns postgres, mysql or sqlite.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	// Addr is host:port.
	// Default: localhost:6379
	Addr string `yaml:"addr,omitempty"`

	Password string `yaml:"password,omitempty"`

	DB int `yaml:"db,omitempty"`

	// Prefix namespaces keys.
	// Default: "shiro:session:"
	Prefix string `yaml:"prefix,omitempty"`

	// TTL expires idle sessions. Zero keeps them forever.
	// Default: 24h
	TTL time.Duration `yaml:"ttl,omitempty"`
}

func (c *RedisConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Prefix == "" {
		c.Prefix = "shiro:session:"
	}
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
}

func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must be non-negative")
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must be non-negative")
	}
	return nil
}
