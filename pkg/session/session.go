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

// Package session persists conversation history between requests.
//
// A session is the item list a client would otherwise send back on every
// call. The server prepends the stored items to the request messages and
// saves the run's full input list afterwards.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/item"
)

// errNotFound is returned by backends for a missing key. Store.Load turns
// it into an empty history.
var errNotFound = errors.New("session not found")

// Store persists item lists by session id.
type Store interface {
	// Load returns the stored history, empty for an unknown session.
	Load(ctx context.Context, id string) ([]*item.Item, error)

	// Save replaces the history of a session.
	Save(ctx context.Context, id string, items []*item.Item) error

	// Delete removes a session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}

// NewFromConfig creates the store cfg selects. It returns nil for the
// none backend.
func NewFromConfig(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case config.StorageBackendNone:
		return nil, nil
	case config.StorageBackendMemory, "":
		return NewMemoryStore(), nil
	case config.StorageBackendSQL:
		if cfg.SQL == nil {
			return nil, fmt.Errorf("sql backend requires sql configuration")
		}
		return OpenSQLStore(ctx, cfg.SQL)
	case config.StorageBackendRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis backend requires redis configuration")
		}
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
	}
}

func encodeItems(items []*item.Item) ([]byte, error) {
	if items == nil {
		items = []*item.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session items: %w", err)
	}
	return data, nil
}

func decodeItems(data []byte) ([]*item.Item, error) {
	var items []*item.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode session items: %w", err)
	}
	return items, nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}
