package session

import (
	"context"
	"sync"

	"github.com/shiroai/shiro/pkg/item"
)

// MemoryStore keeps sessions in process memory. Items are cloned on the
// way in and out so callers cannot mutate stored history.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*item.Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]*item.Item)}
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]*item.Item, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return item.CloneAll(s.sessions[id]), nil
}

func (s *MemoryStore) Save(_ context.Context, id string, items []*item.Item) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = item.CloneAll(items)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
