package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
)

const (
	// lockTimeout is how long a writer waits for the cross-process file lock.
	lockTimeout = 5 * time.Second

	// lockRetryDelay is the polling interval while waiting for the lock.
	lockRetryDelay = 100 * time.Millisecond

	// DefaultFileName is the file used by DefaultFileArea.
	DefaultFileName = "storage.json"

	// DefaultDirName is the directory under the user config dir used by
	// DefaultFileArea.
	DefaultDirName = "authgate"
)

// FileArea is a durable Area kept as a single JSON object on disk. Writes
// go through a temp file and an atomic rename while holding an exclusive
// lock on "<path>.lock", so several processes can share one file.
type FileArea struct {
	path   string
	logger hclog.Logger

	mu sync.Mutex
}

var _ Area = (*FileArea)(nil)

// NewFileArea returns an area persisted at path. An empty path yields an
// area that reports itself unavailable.
func NewFileArea(path string, logger hclog.Logger) *FileArea {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FileArea{path: path, logger: logger}
}

// DefaultFileArea returns the area at <user config dir>/authgate/storage.json.
// When the platform has no user config directory the returned area is
// unavailable.
func DefaultFileArea() *FileArea {
	dir, err := os.UserConfigDir()
	if err != nil {
		return NewFileArea("", nil)
	}
	return NewFileArea(filepath.Join(dir, DefaultDirName, DefaultFileName), nil)
}

// Path returns the file the area is persisted to.
func (a *FileArea) Path() string { return a.path }

// Available reports whether the parent directory exists or can be created.
func (a *FileArea) Available() bool {
	if a == nil || a.path == "" {
		return false
	}
	dir := filepath.Dir(a.path)
	info, err := os.Stat(dir)
	if err == nil {
		return info.IsDir()
	}
	if !os.IsNotExist(err) {
		return false
	}
	return os.MkdirAll(dir, 0o700) == nil
}

// GetItem implements Area.
func (a *FileArea) GetItem(key string) (string, bool, error) {
	items, err := a.load()
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

// SetItem implements Area.
func (a *FileArea) SetItem(key, value string) error {
	return a.update(func(items map[string]string) {
		items[key] = value
	})
}

// RemoveItem implements Area.
func (a *FileArea) RemoveItem(key string) error {
	return a.update(func(items map[string]string) {
		delete(items, key)
	})
}

// Keys implements Area.
func (a *FileArea) Keys() ([]string, error) {
	items, err := a.load()
	if err != nil {
		return nil, err
	}
	return sortedKeys(items), nil
}

func (a *FileArea) load() (map[string]string, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	items := map[string]string{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse storage file: %w", err)
	}
	return items, nil
}

func (a *FileArea) update(mutate func(items map[string]string)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	lock := flock.New(a.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock: timeout after %v", lockTimeout)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.logger.Warn("failed to release storage lock", "path", a.path, "error", err)
		}
	}()

	items, err := a.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking every write.
		a.logger.Warn("discarding unreadable storage file", "path", a.path, "error", err)
		items = map[string]string{}
	}
	mutate(items)

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}

	tempFile := a.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, a.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; also failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
