package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service name used when none is given.
const DefaultKeyringService = "authgate"

// KeyringArea is a durable Area stored in the operating system keyring.
// The keyring has no enumeration API, so the whole area is serialized as a
// single JSON secret under (service, user).
type KeyringArea struct {
	service string
	user    string

	mu sync.Mutex
}

var _ Area = (*KeyringArea)(nil)

// NewKeyringArea returns an area stored under the given keyring service and
// user. An empty service falls back to DefaultKeyringService.
func NewKeyringArea(service, user string) *KeyringArea {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringArea{service: service, user: user}
}

// Available probes the keyring backend. A missing secret still counts as
// available; any other backend error does not.
func (a *KeyringArea) Available() bool {
	if a == nil {
		return false
	}
	_, err := keyring.Get(a.service, a.user)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// GetItem implements Area.
func (a *KeyringArea) GetItem(key string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	items, err := a.load()
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

// SetItem implements Area.
func (a *KeyringArea) SetItem(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	items, err := a.load()
	if err != nil {
		return err
	}
	items[key] = value
	return a.save(items)
}

// RemoveItem implements Area.
func (a *KeyringArea) RemoveItem(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	items, err := a.load()
	if err != nil {
		return err
	}
	if _, ok := items[key]; !ok {
		return nil
	}
	delete(items, key)
	return a.save(items)
}

// Keys implements Area.
func (a *KeyringArea) Keys() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	items, err := a.load()
	if err != nil {
		return nil, err
	}
	return sortedKeys(items), nil
}

func (a *KeyringArea) load() (map[string]string, error) {
	secret, err := keyring.Get(a.service, a.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read keyring secret: %w", err)
	}
	items := map[string]string{}
	if err := json.Unmarshal([]byte(secret), &items); err != nil {
		return nil, fmt.Errorf("failed to parse keyring secret: %w", err)
	}
	return items, nil
}

func (a *KeyringArea) save(items map[string]string) error {
	if len(items) == 0 {
		if err := keyring.Delete(a.service, a.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to delete keyring secret: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := keyring.Set(a.service, a.user, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring secret: %w", err)
	}
	return nil
}
