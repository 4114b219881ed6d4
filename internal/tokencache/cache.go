// Package tokencache persists the last known access token across restarts.
//
// The cache is a convenience that bridges process restarts. It is never
// authoritative: the identity provider session decides whether a user is
// signed in, and the session manager overwrites or purges the cached value
// on every transition.
package tokencache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/assetdesk/internal/errors"
)

// Cache stores a single token value.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Load returns the cached token, or "" when nothing is cached.
	Load() (string, error)

	// Store replaces the cached token.
	Store(token string) error

	// Clear removes the cached token. Clearing an empty cache is not an error.
	Clear() error
}

// entry is the on-disk format.
type entry struct {
	AccessToken string    `json:"access_token"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FileCache stores the token in a JSON file readable only by the owner.
type FileCache struct {
	path string
	mu   sync.Mutex
}

// NewFileCache creates a cache backed by path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the backing file path.
func (c *FileCache) Path() string {
	return c.path
}

// Load reads the cached token.
func (c *FileCache) Load() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeCacheReadFailed, "failed to read token cache", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", errors.Wrap(errors.ErrCodeCacheReadFailed, "token cache is corrupt", err).
			WithSuggestion("Run 'assetdesk auth logout' to reset local session data")
	}
	return e.AccessToken, nil
}

// Store writes token to disk. An empty token clears the cache.
func (c *FileCache) Store(token string) error {
	if token == "" {
		return c.Clear()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to create token cache directory", err)
	}

	data, err := json.MarshalIndent(entry{AccessToken: token, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to encode token cache", err)
	}

	// Write then rename so a crash never leaves a half-written file.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to write token cache", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to replace token cache", err)
	}
	return nil
}

// Clear deletes the cache file.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to remove token cache", err)
	}
	return nil
}

// MemoryCache keeps the token in memory. Useful for tests and for
// embedding the core where no durable storage exists.
type MemoryCache struct {
	mu    sync.Mutex
	token string
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Load returns the cached token.
func (c *MemoryCache) Load() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// Store replaces the cached token.
func (c *MemoryCache) Store(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	return nil
}

// Clear empties the cache.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return nil
}
