package goflow

import (
	"fmt"
	"maps"
	"sort"
	"sync"
)

// Shared is the state container passed by reference to every node of a
// run. Callers create it before Run and read it afterwards. All access is
// guarded so concurrent batch items may use it.
type Shared struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewShared creates a store seeded with a copy of initial.
func NewShared(initial map[string]any) *Shared {
	values := make(map[string]any, len(initial))
	maps.Copy(values, initial)
	return &Shared{values: values}
}

// Lookup returns the raw value stored under key.
func (s *Shared) Lookup(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key.
func (s *Shared) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
}

// Delete removes key.
func (s *Shared) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Update atomically replaces the value under key with fn(current, exists).
func (s *Shared) Update(key string, fn func(current any, exists bool) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	current, ok := s.values[key]
	s.values[key] = fn(current, ok)
}

// Keys returns the stored keys in sorted order.
func (s *Shared) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *Shared) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a shallow copy of the current values.
func (s *Shared) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Getter is satisfied by Shared and Params.
type Getter interface {
	Lookup(key string) (any, bool)
}

// Get reads key from g as T. It returns ErrKeyNotFound for a missing key
// and a *TypeMismatchError when the stored value is not a T. Values are
// never converted: an int stored under key is not readable as int64.
func Get[T any](g Getter, key string) (T, error) {
	var zero T
	raw, ok := g.Lookup(key)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Key:      key,
			Expected: fmt.Sprintf("%T", any(&zero))[1:],
			Actual:   fmt.Sprintf("%T", raw),
		}
	}
	return v, nil
}

// GetOr reads key as T, returning def when the key is missing. A value of
// the wrong type is still an error.
func GetOr[T any](g Getter, key string, def T) (T, error) {
	if _, ok := g.Lookup(key); !ok {
		return def, nil
	}
	return Get[T](g, key)
}

// MustGet is Get for callers that treat a failed read as a programming error.
func MustGet[T any](g Getter, key string) T {
	v, err := Get[T](g, key)
	if err != nil {
		panic(err)
	}
	return v
}
