// Package registry provides a concurrency-safe set of named values, used
// for pluggable factories such as LLM providers.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry maps case-insensitive names to values.
type Registry[T any] struct {
	kind string

	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty registry. kind names the values in errors, e.g.
// "llm provider".
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, items: make(map[string]T)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a value. Names must be unique.
func (r *Registry[T]) Register(name string, item T) error {
	key := normalize(name)
	if key == "" {
		return fmt.Errorf("%s name cannot be empty", r.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[key]; exists {
		return fmt.Errorf("%s %q already registered", r.kind, name)
	}
	r.items[key] = item
	return nil
}

// MustRegister is Register for package initialization.
func (r *Registry[T]) MustRegister(name string, item T) {
	if err := r.Register(name, item); err != nil {
		panic(err)
	}
}

// Get returns the value registered under name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[normalize(name)]
	return item, ok
}

// Lookup is Get with an error naming the registered values.
func (r *Registry[T]) Lookup(name string) (T, error) {
	item, ok := r.Get(name)
	if !ok {
		return item, fmt.Errorf("unknown %s %q (supported: %s)", r.kind, name, strings.Join(r.Names(), ", "))
	}
	return item, nil
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Remove deletes a value.
func (r *Registry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalize(name)
	if _, exists := r.items[key]; !exists {
		return fmt.Errorf("%s %q not found", r.kind, name)
	}
	delete(r.items, key)
	return nil
}

// Count returns the number of values.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
