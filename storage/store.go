// Package storage provides namespaced string key-value stores on top of a
// durable or session-scoped Area.
//
// A store built with base key "oauth" keeps logical key "refresh_token" under
// the physical key "oauth.refresh_token", so several clients can share one
// area as long as they pick distinct base keys.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// ErrUnsupportedStorage is returned by every Store operation when the
// backing Area is unavailable.
var ErrUnsupportedStorage = errors.New("storage is not supported")

// Store is a namespaced string map.
type Store interface {
	// Get returns the value for key, or the first default (or "") when the
	// key is missing.
	Get(key string, defaultValue ...string) (string, error)

	// Lookup returns the value for key and whether it exists.
	Lookup(key string) (string, bool, error)

	// Set stores value under key. An empty value deletes the key, so a
	// store never holds an empty string.
	Set(key, value string) error

	// Delete removes key.
	Delete(key string) error

	// Clear removes every key of this namespace and nothing else.
	Clear() error

	// Has reports whether key holds a value.
	Has(key string) (bool, error)

	// Supported reports whether the backing area is usable.
	Supported() bool

	// Key returns the physical key for a logical key.
	Key(key string) string
}

type options struct {
	withArea   Area
	withLogger hclog.Logger
}

// Option configures a store.
type Option func(*options)

// WithArea overrides the backing area of a store.
func WithArea(a Area) Option {
	return func(o *options) {
		o.withArea = a
	}
}

// WithLogger sets the logger used by a store.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

func getOpts(defaultArea func() Area, opt ...Option) options {
	opts := options{}
	for _, o := range opt {
		o(&opts)
	}
	if opts.withArea == nil {
		opts.withArea = defaultArea()
	}
	if opts.withLogger == nil {
		opts.withLogger = hclog.NewNullLogger()
	}
	return opts
}

// ScopedStore implements Store over any Area.
type ScopedStore struct {
	area    Area
	baseKey string
	logger  hclog.Logger
}

var _ Store = (*ScopedStore)(nil)

// NewScopedStore returns a store that keeps its keys under baseKey in area.
func NewScopedStore(area Area, baseKey string, opt ...Option) *ScopedStore {
	opts := getOpts(func() Area { return area }, opt...)
	return &ScopedStore{
		area:    opts.withArea,
		baseKey: baseKey,
		logger:  opts.withLogger,
	}
}

// PersistentStore is a Store that survives process restarts. By default it
// is backed by DefaultFileArea.
type PersistentStore struct {
	*ScopedStore
}

// NewPersistentStore returns a persistent store scoped under baseKey.
// Supported options: WithArea, WithLogger.
func NewPersistentStore(baseKey string, opt ...Option) *PersistentStore {
	opts := getOpts(func() Area { return DefaultFileArea() }, opt...)
	return &PersistentStore{
		ScopedStore: &ScopedStore{area: opts.withArea, baseKey: baseKey, logger: opts.withLogger},
	}
}

// SessionStore is a Store that lives as long as the process. By default it is
// backed by SessionArea.
type SessionStore struct {
	*ScopedStore
}

// NewSessionStore returns a session store scoped under baseKey.
// Supported options: WithArea, WithLogger.
func NewSessionStore(baseKey string, opt ...Option) *SessionStore {
	opts := getOpts(func() Area { return SessionArea() }, opt...)
	return &SessionStore{
		ScopedStore: &ScopedStore{area: opts.withArea, baseKey: baseKey, logger: opts.withLogger},
	}
}

// BaseKey returns the namespace prefix of the store.
func (s *ScopedStore) BaseKey() string { return s.baseKey }

// Key returns the physical key for key. It is idempotent: a key that already
// starts with the base key is returned unchanged.
func (s *ScopedStore) Key(key string) string {
	if s.baseKey != "" && !strings.HasPrefix(key, s.baseKey) {
		return s.baseKey + "." + key
	}
	return key
}

// Supported implements Store.
func (s *ScopedStore) Supported() bool {
	return s != nil && s.area != nil && s.area.Available()
}

func (s *ScopedStore) checkSupport(op string) error {
	if !s.Supported() {
		return fmt.Errorf("%s: %w", op, ErrUnsupportedStorage)
	}
	return nil
}

// Get implements Store.
func (s *ScopedStore) Get(key string, defaultValue ...string) (string, error) {
	const op = "storage.(ScopedStore).Get"
	v, ok, err := s.lookup(op, key)
	if err != nil {
		return "", err
	}
	if !ok && len(defaultValue) > 0 {
		return defaultValue[0], nil
	}
	return v, nil
}

// Lookup implements Store.
func (s *ScopedStore) Lookup(key string) (string, bool, error) {
	return s.lookup("storage.(ScopedStore).Lookup", key)
}

func (s *ScopedStore) lookup(op, key string) (string, bool, error) {
	if err := s.checkSupport(op); err != nil {
		return "", false, err
	}
	v, ok, err := s.area.GetItem(s.Key(key))
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, ok, nil
}

// Set implements Store.
func (s *ScopedStore) Set(key, value string) error {
	const op = "storage.(ScopedStore).Set"
	if err := s.checkSupport(op); err != nil {
		return err
	}
	if value == "" {
		return s.Delete(key)
	}
	if err := s.area.SetItem(s.Key(key), value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Store.
func (s *ScopedStore) Delete(key string) error {
	const op = "storage.(ScopedStore).Delete"
	if err := s.checkSupport(op); err != nil {
		return err
	}
	if err := s.area.RemoveItem(s.Key(key)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Has implements Store.
func (s *ScopedStore) Has(key string) (bool, error) {
	_, ok, err := s.lookup("storage.(ScopedStore).Has", key)
	return ok, err
}

// Clear implements Store. Physical keys are handed back to Delete, which
// relies on Key being idempotent.
func (s *ScopedStore) Clear() error {
	const op = "storage.(ScopedStore).Clear"
	if err := s.checkSupport(op); err != nil {
		return err
	}
	keys, err := s.area.Keys()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var retErr *multierror.Error
	removed := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, s.baseKey) {
			continue
		}
		if err := s.Delete(k); err != nil {
			retErr = multierror.Append(retErr, err)
			continue
		}
		removed++
	}
	s.logger.Trace("cleared storage namespace", "base_key", s.baseKey, "removed", removed)
	return retErr.ErrorOrNil()
}
