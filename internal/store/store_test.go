package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/notify/internal/store"
)

func TestSetGetRoundTrip(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, ok := s.Get("missing")
	assert.False(t, ok)

	require.NoError(t, s.Set("device-id", "abc-123"))
	v, ok := s.Get("device-id")
	require.True(t, ok)
	assert.Equal(t, "abc-123", v)

	require.NoError(t, s.Set("device-id", "def-456"))
	v, _ = s.Get("device-id")
	assert.Equal(t, "def-456", v)
}

func TestDelete(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Delete("k"))
	_, ok := s.Get("k")
	assert.False(t, ok)

	// Deleting a missing key is not an error.
	require.NoError(t, s.Delete("k"))
}

func TestTokenHashCacheKeys(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewFileStore(dir)
	require.NoError(t, err)

	// The hash cache is keyed "user:device"; the colon must not leak
	// into the filesystem path.
	key := "user-1:device-9"
	require.NoError(t, s.Set(key, "hash"))
	v, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "hash", v)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ":")
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("device-id", "abc"))

	// A second process (the background worker) opens the same state dir.
	s2, err := store.NewFileStore(dir)
	require.NoError(t, err)
	v, ok := s2.Get("device-id")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestCorruptFileIsAMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{{{"), 0o644))
	_, ok := s.Get("bad")
	assert.False(t, ok)
}
