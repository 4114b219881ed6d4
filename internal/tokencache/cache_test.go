package tokencache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/assetdesk/internal/errors"
)

func TestFileCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "token.json")
	cache := NewFileCache(path)

	token, err := cache.Load()
	require.NoError(t, err)
	assert.Empty(t, token, "missing file means empty cache")

	require.NoError(t, cache.Store("tok-1"))
	token, err = cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, cache.Store("tok-2"))
	token, err = cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	require.NoError(t, cache.Clear())
	token, err = cache.Load()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, cache.Clear(), "clearing twice is fine")
}

func TestFileCacheStoreEmptyClears(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, cache.Store("tok"))
	require.NoError(t, cache.Store(""))

	_, err := os.Stat(cache.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestFileCacheCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileCache(path).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCacheReadFailed))
}

func TestMemoryCacheConcurrent(t *testing.T) {
	cache := NewMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cache.Store("tok")
			_, _ = cache.Load()
		}()
	}
	wg.Wait()

	token, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	require.NoError(t, cache.Clear())
	token, _ = cache.Load()
	assert.Empty(t, token)
}

var (
	_ Cache = (*FileCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)
