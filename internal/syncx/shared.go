// Package syncx holds the small concurrency cells shared by the monitor
// components.
package syncx

import "sync"

// Shared is a value swapped at runtime by API handlers and read on every
// alert. Store replaces the whole value; readers get a copy.
type Shared[T any] struct {
	mu sync.RWMutex
	v  T
}

// NewShared returns a cell holding v.
func NewShared[T any](v T) *Shared[T] {
	return &Shared[T]{v: v}
}

func (s *Shared[T]) Load() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

func (s *Shared[T]) Store(v T) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}
