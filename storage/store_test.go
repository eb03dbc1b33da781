package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unavailableArea is an area that reports itself unusable, like a storage
// area in a context without one.
type unavailableArea struct{ MemoryArea }

func (*unavailableArea) Available() bool { return false }

func TestPersistentStore_SetGetHas(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	area := NewFileArea(filepath.Join(t.TempDir(), "storage.json"), nil)
	s := NewPersistentStore("oauth", WithArea(area))

	require.NoError(s.Set("test", "value"))

	raw, ok, err := area.GetItem("oauth.test")
	require.NoError(err)
	assert.True(ok)
	assert.Equal("value", raw)

	got, err := s.Get("test")
	require.NoError(err)
	assert.Equal("value", got)

	has, err := s.Has("test")
	require.NoError(err)
	assert.True(has)
}

func TestPersistentStore_Replace(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	area := NewFileArea(filepath.Join(t.TempDir(), "storage.json"), nil)
	s := NewPersistentStore("oauth", WithArea(area))

	require.NoError(s.Set("test", "value"))
	require.NoError(s.Set("test", "otherValue"))

	got, err := s.Get("test")
	require.NoError(err)
	assert.Equal("otherValue", got)

	raw, _, err := area.GetItem("oauth.test")
	require.NoError(err)
	assert.Equal("otherValue", raw)

	has, err := s.Has("test")
	require.NoError(err)
	assert.True(has)
}

func TestSessionStore_SetGetReplace(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	area := NewMemoryArea()
	s := NewSessionStore("oauth", WithArea(area))

	require.NoError(s.Set("test", "value"))
	raw, _, _ := area.GetItem("oauth.test")
	assert.Equal("value", raw)

	require.NoError(s.Set("test", "otherValue"))
	got, err := s.Get("test")
	require.NoError(err)
	assert.Equal("otherValue", got)
	raw, _, _ = area.GetItem("oauth.test")
	assert.Equal("otherValue", raw)
}

func TestSessionStore_DefaultsToSessionArea(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	s := NewSessionStore("session-default-test")
	t.Cleanup(func() { _ = s.Clear() })

	require.NoError(s.Set("k", "v"))
	raw, ok, err := SessionArea().GetItem("session-default-test.k")
	require.NoError(err)
	assert.True(ok)
	assert.Equal("v", raw)
}

func TestScopedStore_EmptyValueDeletes(t *testing.T) {
	tests := []struct {
		name   string
		remove func(s Store) error
	}{
		{"set-empty", func(s Store) error { return s.Set("k", "") }},
		{"delete", func(s Store) error { return s.Delete("k") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			area := NewMemoryArea()
			s := NewScopedStore(area, "oauth")
			require.NoError(s.Set("k", "v"))

			require.NoError(tt.remove(s))

			_, ok, err := s.Lookup("k")
			require.NoError(err)
			assert.False(ok)
			keys, _ := area.Keys()
			assert.Empty(keys)
		})
	}
}

func TestScopedStore_GetDefault(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	s := NewScopedStore(NewMemoryArea(), "oauth")

	got, err := s.Get("missing", "fallback")
	require.NoError(err)
	assert.Equal("fallback", got)

	got, err = s.Get("missing")
	require.NoError(err)
	assert.Empty(got)

	has, err := s.Has("missing")
	require.NoError(err)
	assert.False(has)
}

func TestScopedStore_Key(t *testing.T) {
	tests := []struct {
		name    string
		baseKey string
		key     string
		want    string
	}{
		{"prefixed", "oauth", "refresh_token", "oauth.refresh_token"},
		{"already-scoped", "oauth", "oauth.refresh_token", "oauth.refresh_token"},
		{"empty-base", "", "refresh_token", "refresh_token"},
		{"empty-key", "oauth", "", "oauth."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			s := NewScopedStore(NewMemoryArea(), tt.baseKey)
			got := s.Key(tt.key)
			assert.Equal(tt.want, got)
			assert.Equal(got, s.Key(got), "key scoping must be idempotent")
		})
	}
}

func TestScopedStore_ClearIsolation(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	area := NewFileArea(filepath.Join(t.TempDir(), "storage.json"), nil)
	require.NoError(area.SetItem("oauth.a", "1"))
	require.NoError(area.SetItem("oauth.b", "2"))
	require.NoError(area.SetItem("other.b", "2"))

	require.NoError(NewPersistentStore("oauth", WithArea(area)).Clear())

	keys, err := area.Keys()
	require.NoError(err)
	assert.Equal([]string{"other.b"}, keys)
}

func TestScopedStore_ClearEmptyArea(t *testing.T) {
	s := NewScopedStore(NewMemoryArea(), "oauth")
	require.NoError(t, s.Clear())
}

func TestScopedStore_Unsupported(t *testing.T) {
	s := NewScopedStore(&unavailableArea{}, "oauth")
	assert.False(t, s.Supported())

	ops := map[string]func() error{
		"get":    func() error { _, err := s.Get("k"); return err },
		"lookup": func() error { _, _, err := s.Lookup("k"); return err },
		"set":    func() error { return s.Set("k", "v") },
		"delete": func() error { return s.Delete("k") },
		"clear":  func() error { return s.Clear() },
		"has":    func() error { _, err := s.Has("k"); return err },
	}
	for name, fn := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), ErrUnsupportedStorage)
		})
	}
}

func TestFileArea_Unavailable(t *testing.T) {
	s := NewPersistentStore("oauth", WithArea(NewFileArea("", nil)))
	assert.False(t, s.Supported())
	assert.ErrorIs(t, s.Set("k", "v"), ErrUnsupportedStorage)
}
