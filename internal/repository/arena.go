package repository

import (
	"sync"
	"sync/atomic"
)

// arena maps GUIDs to individually swappable records. Readers never block
// writers on other GUIDs; a write to one GUID is a single compare-and-swap.
type arena[T any] struct {
	mu      sync.RWMutex
	slots   map[string]*atomic.Pointer[T]
	version func(*T) int64
}

func newArena[T any](version func(*T) int64) *arena[T] {
	return &arena[T]{slots: make(map[string]*atomic.Pointer[T]), version: version}
}

func (a *arena[T]) slot(guid string) *atomic.Pointer[T] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.slots[guid]
}

func (a *arena[T]) load(guid string) (*T, bool) {
	s := a.slot(guid)
	if s == nil {
		return nil, false
	}
	v := s.Load()
	return v, v != nil
}

func (a *arena[T]) insert(guid string, v *T) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[guid]; ok && s.Load() != nil {
		return ErrAlreadyExists
	}
	s := &atomic.Pointer[T]{}
	s.Store(v)
	a.slots[guid] = s
	return nil
}

// swap replaces the record when its version still equals expected. A nil
// next removes the record.
func (a *arena[T]) swap(guid string, expected int64, next *T) error {
	s := a.slot(guid)
	if s == nil {
		return ErrNotFound
	}
	cur := s.Load()
	if cur == nil {
		return ErrNotFound
	}
	if a.version(cur) != expected {
		return ErrVersionConflict
	}
	if !s.CompareAndSwap(cur, next) {
		return ErrVersionConflict
	}
	if next == nil {
		a.mu.Lock()
		if a.slots[guid] == s && s.Load() == nil {
			delete(a.slots, guid)
		}
		a.mu.Unlock()
	}
	return nil
}

func (a *arena[T]) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots)
}
