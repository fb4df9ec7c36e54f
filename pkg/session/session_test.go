package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/item"
)

func conversation() []*item.Item {
	return []*item.Item{
		item.UserMessage("Summarise my unread mail"),
		item.FunctionCall("call_1", "transfer_to_gmail_agent", map[string]any{}),
		item.FunctionCallOutput("call_1", `{"assistant": "Gmail Agent"}`),
		item.AssistantMessage("You have two unread emails."),
	}
}

// wire returns the client-visible form of items, which is what a store
// must preserve.
func wire(t *testing.T, items []*item.Item) []map[string]any {
	t.Helper()
	data, err := json.Marshal(items)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	cfg := &config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "sessions.db")}
	cfg.SetDefaults()
	s, err := OpenSQLStore(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreWithClient(client, "test:session:", time.Hour), mr
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })

			got, err := s.Load(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, got)

			want := conversation()
			require.NoError(t, s.Save(ctx, "s1", want))
			got, err = s.Load(ctx, "s1")
			require.NoError(t, err)
			if diff := cmp.Diff(wire(t, want), wire(t, got)); diff != "" {
				t.Errorf("loaded items mismatch (-want +got):\n%s", diff)
			}

			// Save replaces, it does not append.
			shorter := want[:1]
			require.NoError(t, s.Save(ctx, "s1", shorter))
			got, err = s.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, got, 1)

			require.NoError(t, s.Delete(ctx, "s1"))
			require.NoError(t, s.Delete(ctx, "s1"))
			got, err = s.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, got)

			_, err = s.Load(ctx, "")
			assert.Error(t, err)
			assert.Error(t, s.Save(ctx, "", want))
		})
	}
}

func TestMemoryStore_IsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	items := conversation()
	require.NoError(t, s.Save(ctx, "s1", items))
	items[0].Parts[0].Text = "changed"

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Summarise my unread mail", got[0].Text())
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	defer s.Close()

	require.NoError(t, s.Save(ctx, "s1", conversation()))
	assert.True(t, mr.Exists("test:session:s1"))
	assert.Equal(t, time.Hour, mr.TTL("test:session:s1"))

	mr.FastForward(2 * time.Hour)
	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{dialect: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &SQLStore{dialect: "sqlite"}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
	assert.Contains(t, (&SQLStore{dialect: "mysql"}).upsertQuery(), "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, pg.upsertQuery(), "VALUES ($1, $2, $3)")
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.SessionConfig
		want    any
		wantErr bool
	}{
		{name: "none", cfg: config.SessionConfig{Backend: config.StorageBackendNone}, want: nil},
		{name: "memory", cfg: config.SessionConfig{Backend: config.StorageBackendMemory}, want: &MemoryStore{}},
		{
			name: "sqlite",
			cfg: config.SessionConfig{Backend: config.StorageBackendSQL, SQL: &config.DatabaseConfig{
				Driver: "sqlite3", Database: filepath.Join(t.TempDir(), "s.db"),
			}},
			want: &SQLStore{},
		},
		{
			name: "redis",
			cfg:  config.SessionConfig{Backend: config.StorageBackendRedis, Redis: &config.RedisConfig{Addr: mr.Addr()}},
			want: &RedisStore{},
		},
		{name: "sql without config", cfg: config.SessionConfig{Backend: config.StorageBackendSQL}, wantErr: true},
		{name: "unknown", cfg: config.SessionConfig{Backend: "mongo"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.SetDefaults()
			s, err := NewFromConfig(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, s)
				return
			}
			t.Cleanup(func() { _ = s.Close() })
			assert.IsType(t, tt.want, s)
		})
	}
}
