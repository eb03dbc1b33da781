package storage

import (
	"sort"
	"sync"
)

// Area is a flat string map that backs a Store. It plays the role the
// browser's localStorage and sessionStorage play for web applications:
// process-wide, unscoped, and shared by every Store built on top of it.
type Area interface {
	// Available reports whether the area can be used at all.
	Available() bool

	// GetItem returns the value stored under key and whether it exists.
	GetItem(key string) (string, bool, error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(key, value string) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error

	// Keys lists every key currently held by the area.
	Keys() ([]string, error)
}

// MemoryArea is an Area held in process memory. It lives exactly as long as
// the process, which makes it the native counterpart of a browsing session.
type MemoryArea struct {
	mu    sync.RWMutex
	items map[string]string
}

var _ Area = (*MemoryArea)(nil)

// NewMemoryArea returns an empty MemoryArea.
func NewMemoryArea() *MemoryArea {
	return &MemoryArea{items: make(map[string]string)}
}

var sessionArea = NewMemoryArea()

// SessionArea returns the process-wide session area used by SessionStore.
func SessionArea() *MemoryArea {
	return sessionArea
}

// Available always returns true.
func (a *MemoryArea) Available() bool { return a != nil }

// GetItem implements Area.
func (a *MemoryArea) GetItem(key string) (string, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.items[key]
	return v, ok, nil
}

// SetItem implements Area.
func (a *MemoryArea) SetItem(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[key] = value
	return nil
}

// RemoveItem implements Area.
func (a *MemoryArea) RemoveItem(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.items, key)
	return nil
}

// Keys implements Area. Keys are returned sorted.
func (a *MemoryArea) Keys() ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedKeys(a.items), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
