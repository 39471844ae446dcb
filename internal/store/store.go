// Package store buffers captured events in memory and persists them as JSON.
package store

import "sync"

// Store is an ordered, append-only buffer safe for concurrent use.
type Store[T any] struct {
	mu    sync.Mutex
	items []T
}

// New returns an empty store.
func New[T any]() *Store[T] {
	return &Store[T]{}
}

// Append adds v and returns its index.
func (s *Store[T]) Append(v T) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, v)
	return len(s.items) - 1
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns a copy of the current contents.
func (s *Store[T]) Snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Drain returns the contents and empties the store in one step.
func (s *Store[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.items = nil
	if out == nil {
		out = []T{}
	}
	return out
}

// DrainWith hands the contents to fn while holding the lock and empties the
// store only if fn succeeds. Appends block until fn returns.
func (s *Store[T]) DrainWith(fn func(items []T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items
	if items == nil {
		items = []T{}
	}
	if err := fn(items); err != nil {
		return err
	}
	s.items = nil
	return nil
}
