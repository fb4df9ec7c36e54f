package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiroai/shiro/pkg/config"
)

// incrementScript adds to a counter and starts its window on first use.
// It returns the new amount and the remaining TTL in milliseconds.
var incrementScript = redis.NewScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {v, ttl}
`)

// RedisStore keeps one counter per client, rule type and window. The key
// TTL is the window, so Redis drops expired usage itself.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the server cfg names and pings it.
func NewRedisStore(ctx context.Context, cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client. The store closes it.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) clientKey(scope Scope, identifier string) string {
	return s.prefix + string(scope) + ":" + identifier + ":"
}

func (s *RedisStore) key(scope Scope, identifier string, limitType LimitType, window TimeWindow) string {
	return s.clientKey(scope, identifier) + string(limitType) + ":" + string(window)
}

func (s *RedisStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	key := s.key(scope, identifier, limitType, window)
	now := time.Now()

	amount, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, now.Add(window.Duration()), nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if ttl <= 0 {
		// Expired between the two calls, or has no TTL.
		return amount, now.Add(window.Duration()), nil
	}
	return amount, now.Add(ttl), nil
}

func (s *RedisStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	key := s.key(scope, identifier, limitType, window)
	res, err := incrementScript.Run(ctx, s.client, []string{key}, amount, window.Duration().Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected script result %v", res)
	}
	return res[0], time.Now().Add(time.Duration(res[1]) * time.Millisecond), nil
}

func (s *RedisStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	iter := s.client.Scan(ctx, 0, s.clientKey(scope, identifier)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
