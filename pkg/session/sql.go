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

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/item"
	"github.com/shiroai/shiro/pkg/utils"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const createSessionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS shiro_sessions (
    id VARCHAR(255) NOT NULL PRIMARY KEY,
    items TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

// SQLStore keeps sessions in a SQL database, one row per session.
// Concurrent saves of the same session are last-writer-wins.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQLStore opens the database cfg describes and creates the table.
func OpenSQLStore(ctx context.Context, cfg *config.DatabaseConfig) (*SQLStore, error) {
	if cfg.Dialect() == "sqlite" {
		if err := utils.EnsureParentDir(cfg.Database); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect(), err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Dialect(), err)
	}

	s, err := NewSQLStore(ctx, db, cfg.Dialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database. The store owns db and closes it.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	case "sqlite3":
		dialect = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if _, err := db.ExecContext(ctx, createSessionsSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Load(ctx context.Context, id string) ([]*item.Item, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT items FROM shiro_sessions WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return []*item.Item{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return decodeItems([]byte(data))
}

func (s *SQLStore) Save(ctx context.Context, id string, items []*item.Item) error {
	if err := validateID(id); err != nil {
		return err
	}
	data, err := encodeItems(items)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.upsertQuery(), id, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM shiro_sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) upsertQuery() string {
	switch s.dialect {
	case "mysql":
		return `INSERT INTO shiro_sessions (id, items, updated_at) VALUES (?, ?, ?)
                ON DUPLICATE KEY UPDATE items = VALUES(items), updated_at = VALUES(updated_at)`
	default:
		return s.rebind(`INSERT INTO shiro_sessions (id, items, updated_at) VALUES (?, ?, ?)
                ON CONFLICT (id) DO UPDATE SET items = excluded.items, updated_at = excluded.updated_at`)
	}
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for _, c := range query {
		if c == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

var _ Store = (*SQLStore)(nil)
