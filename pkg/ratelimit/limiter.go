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

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shiroai/shiro/pkg/config"
)

// Store persists usage per client, rule type and window.
type Store interface {
	// GetUsage returns the amount used in the current window and when the
	// window ends. A missing or expired record is 0 with a fresh window.
	GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error)

	// IncrementUsage adds amount, starting a new window when the current
	// one has expired.
	IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error)

	// DeleteUsage removes every record of a client.
	DeleteUsage(ctx context.Context, scope Scope, identifier string) error

	Close() error
}

// expirer is implemented by stores that need explicit cleanup.
type expirer interface {
	DeleteExpired(ctx context.Context, before time.Time) error
}

// Limiter enforces a set of rules against a Store.
type Limiter struct {
	scope Scope
	rules []LimitRule
	store Store

	// mu makes check-and-record atomic within one process.
	mu sync.Mutex
}

// NewLimiter creates a limiter. It owns store and closes it.
func NewLimiter(scope Scope, rules []LimitRule, store Store) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("at least one limit rule is required")
	}
	for i, r := range rules {
		if r.Limit <= 0 {
			return nil, fmt.Errorf("limits[%d]: limit must be positive", i)
		}
		if r.Type != LimitTypeCount && r.Type != LimitTypeToken {
			return nil, fmt.Errorf("limits[%d]: invalid type %q", i, r.Type)
		}
	}
	return &Limiter{scope: scope, rules: rules, store: store}, nil
}

// NewFromConfig builds the limiter cfg describes. It returns nil when rate
// limiting is disabled.
func NewFromConfig(ctx context.Context, cfg *config.RateLimitConfig) (*Limiter, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	scope, err := ParseScope(cfg.Scope)
	if err != nil {
		return nil, err
	}

	var store Store
	switch cfg.Backend {
	case "memory", "":
		store = NewMemoryStore()
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis backend requires redis configuration")
		}
		store, err = NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", cfg.Backend)
	}

	rules := make([]LimitRule, len(cfg.Limits))
	for i, l := range cfg.Limits {
		rules[i] = LimitRule{
			Type:   LimitType(l.Type),
			Window: TimeWindow(l.Window),
			Limit:  l.Limit,
		}
	}

	limiter, err := NewLimiter(scope, rules, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return limiter, nil
}

// Scope returns how clients are identified.
func (l *Limiter) Scope() Scope {
	return l.scope
}

// Check reports whether one more request fits, without recording it.
func (l *Limiter) Check(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}
	return l.check(ctx, scope, identifier, 0, 1)
}

// CheckAndRecord checks the limits and, when the request fits, records
// tokenCount tokens and requestCount requests.
func (l *Limiter) CheckAndRecord(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) (*CheckResult, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.check(ctx, scope, identifier, tokenCount, requestCount)
	if err != nil || !result.Allowed {
		return result, err
	}

	for i, rule := range l.rules {
		amount := amountFor(rule.Type, tokenCount, requestCount)
		if amount <= 0 {
			continue
		}
		current, windowEnd, err := l.store.IncrementUsage(ctx, scope, identifier, rule.Type, rule.Window, amount)
		if err != nil {
			return nil, fmt.Errorf("failed to increment usage for %s/%s: %w", rule.Type, rule.Window, err)
		}
		result.Usages[i] = newUsage(rule, current, windowEnd)
	}
	return result, nil
}

// Allow records one request and returns a *LimitError when it does not fit.
func (l *Limiter) Allow(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	result, err := l.CheckAndRecord(ctx, scope, identifier, 0, 1)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, &LimitError{Result: result}
	}
	return result, nil
}

// Record adds usage measured after the fact, such as the tokens of a
// completed run. It never rejects.
func (l *Limiter) Record(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rule := range l.rules {
		amount := amountFor(rule.Type, tokenCount, requestCount)
		if amount <= 0 {
			continue
		}
		if _, _, err := l.store.IncrementUsage(ctx, scope, identifier, rule.Type, rule.Window, amount); err != nil {
			return fmt.Errorf("failed to increment usage for %s/%s: %w", rule.Type, rule.Window, err)
		}
	}
	return nil
}

// GetUsage returns the usage of every rule for a client.
func (l *Limiter) GetUsage(ctx context.Context, scope Scope, identifier string) ([]Usage, error) {
	result, err := l.check(ctx, scope, identifier, 0, 0)
	if err != nil {
		return nil, err
	}
	return result.Usages, nil
}

// Reset forgets all usage of a client.
func (l *Limiter) Reset(ctx context.Context, scope Scope, identifier string) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeleteUsage(ctx, scope, identifier)
}

// RunCleanup drops expired records every interval until ctx is done. It
// returns immediately for stores that expire records themselves.
func (l *Limiter) RunCleanup(ctx context.Context, interval time.Duration) {
	exp, ok := l.store.(expirer)
	if !ok {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := exp.DeleteExpired(ctx, now); err != nil {
				slog.Warn("Rate limit cleanup failed", "error", err)
			}
		}
	}
}

func (l *Limiter) Close() error {
	return l.store.Close()
}

// check evaluates every rule. A rule denies when the pending amount, at
// least one unit, would take it past its limit. RetryAfter is the time
// until the last exceeded window resets.
func (l *Limiter) check(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) (*CheckResult, error) {
	result := &CheckResult{
		Allowed: true,
		Usages:  make([]Usage, 0, len(l.rules)),
	}

	var retryAt time.Time
	for _, rule := range l.rules {
		current, windowEnd, err := l.store.GetUsage(ctx, scope, identifier, rule.Type, rule.Window)
		if err != nil {
			return nil, fmt.Errorf("failed to get usage for %s/%s: %w", rule.Type, rule.Window, err)
		}
		usage := newUsage(rule, current, windowEnd)
		result.Usages = append(result.Usages, usage)

		need := max(amountFor(rule.Type, tokenCount, requestCount), 1)
		if current+need > rule.Limit {
			if result.Allowed {
				result.Reason = exceededReason(usage)
			}
			result.Allowed = false
			if windowEnd.After(retryAt) {
				retryAt = windowEnd
			}
		}
	}

	if !result.Allowed {
		result.RetryAfter = max(time.Until(retryAt), time.Second)
	}
	return result, nil
}

func amountFor(t LimitType, tokenCount, requestCount int64) int64 {
	if t == LimitTypeToken {
		return tokenCount
	}
	return requestCount
}

func newUsage(rule LimitRule, current int64, windowEnd time.Time) Usage {
	return Usage{
		LimitType: rule.Type,
		Window:    rule.Window,
		Current:   current,
		Limit:     rule.Limit,
		WindowEnd: windowEnd,
		Remaining: max(rule.Limit-current, 0),
	}
}
