// Package reactive provides small observable values: a writable Cell, a
// read-only View over it, and derived views built with Map.
//
// Subscribers are called synchronously after the new value is committed,
// outside any lock, and only when the value actually changes.
package reactive

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Listener is called with the previous and the new value after a change.
type Listener[T any] func(old, new T) error

// Source is anything that holds a current value and reports changes.
type Source[T any] interface {
	Get() T
	Subscribe(fn Listener[T]) (unsubscribe func())
}

type subscription[T any] struct {
	id int
	fn Listener[T]
}

// Cell is a single-writer, multi-reader observable value.
type Cell[T comparable] struct {
	mu     sync.RWMutex
	value  T
	nextID int
	subs   []subscription[T]
}

var _ Source[int] = (*Cell[int])(nil)

// NewCell returns a cell holding initial.
func NewCell[T comparable](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set commits v and notifies subscribers if it differs from the current
// value. Listener errors are collected and returned; the new value stays
// committed regardless.
func (c *Cell[T]) Set(v T) error {
	c.mu.Lock()
	old := c.value
	if old == v {
		c.mu.Unlock()
		return nil
	}
	c.value = v
	subs := make([]subscription[T], len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	var retErr *multierror.Error
	for _, s := range subs {
		if err := s.fn(old, v); err != nil {
			retErr = multierror.Append(retErr, err)
		}
	}
	return retErr.ErrorOrNil()
}

// Subscribe registers fn and returns a function that removes it.
func (c *Cell[T]) Subscribe(fn Listener[T]) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscription[T]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// ReadOnly returns a view of the cell without Set.
func (c *Cell[T]) ReadOnly() *View[T] {
	return &View[T]{get: c.Get, subscribe: c.Subscribe}
}

// View is a read-only projection of a Source.
type View[T any] struct {
	get       func() T
	subscribe func(Listener[T]) func()
}

var _ Source[int] = (*View[int])(nil)

// Get returns the current value.
func (v *View[T]) Get() T { return v.get() }

// Subscribe registers fn and returns a function that removes it.
func (v *View[T]) Subscribe(fn Listener[T]) func() { return v.subscribe(fn) }

// Map derives a read-only view from src. Subscribers of the derived view are
// only notified when the mapped value changes.
func Map[S any, T comparable](src Source[S], fn func(S) T) *View[T] {
	return &View[T]{
		get: func() T { return fn(src.Get()) },
		subscribe: func(l Listener[T]) func() {
			return src.Subscribe(func(old, new S) error {
				from, to := fn(old), fn(new)
				if from == to {
					return nil
				}
				return l(from, to)
			})
		},
	}
}
