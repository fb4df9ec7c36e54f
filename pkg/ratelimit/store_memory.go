package ratelimit

import (
	"context"
	"sync"
	"time"
)

type usageKey struct {
	scope      Scope
	identifier string
	limitType  LimitType
	window     TimeWindow
}

type usageRecord struct {
	amount    int64
	windowEnd time.Time
}

// MemoryStore keeps usage in process memory. Limits are per replica.
type MemoryStore struct {
	mu   sync.Mutex
	data map[usageKey]usageRecord
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[usageKey]usageRecord),
		now:  time.Now,
	}
}

func (s *MemoryStore) GetUsage(_ context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.data[usageKey{scope, identifier, limitType, window}]
	if !ok || !rec.windowEnd.After(now) {
		return 0, now.Add(window.Duration()), nil
	}
	return rec.amount, rec.windowEnd, nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := usageKey{scope, identifier, limitType, window}
	rec, ok := s.data[key]
	if !ok || !rec.windowEnd.After(now) {
		rec = usageRecord{windowEnd: now.Add(window.Duration())}
	}
	rec.amount += amount
	s.data[key] = rec
	return rec.amount, rec.windowEnd, nil
}

func (s *MemoryStore) DeleteUsage(_ context.Context, scope Scope, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.data {
		if key.scope == scope && key.identifier == identifier {
			delete(s.data, key)
		}
	}
	return nil
}

// DeleteExpired drops records whose window ended before the given time.
func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.data {
		if rec.windowEnd.Before(before) {
			delete(s.data, key)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
	return nil
}

// Size returns the number of records.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ expirer = (*MemoryStore)(nil)
)
