package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
)

// Store persists the provider session between process runs.
//
// Implementations must be thread-safe and handle concurrent access.
type Store interface {
	// Load returns the stored session, or nil when none exists.
	Load() (*Session, error)

	// Save replaces the stored session.
	Save(session *Session) error

	// Clear removes the stored session. Returns nil if none exists.
	Clear() error
}

// MemoryStore implements in-memory session storage.
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored session.
func (m *MemoryStore) Load() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

// Save stores a copy of session.
func (m *MemoryStore) Save(session *Session) error {
	if session == nil {
		return m.Clear()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := *session
	m.session = &s
	return nil
}

// Clear removes the stored session.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// FileStore persists the session as JSON, readable only by the owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the stored session.
func (f *FileStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeCacheReadFailed, "failed to read identity session", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeCacheReadFailed, "identity session file is corrupt", err).
			WithSuggestion("Run 'assetdesk auth logout' to reset local session data")
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

// Save writes session to disk.
func (f *FileStore) Save(session *Session) error {
	if session == nil {
		return f.Clear()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeCacheWriteFailed, "failed to create identity session directory", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeCacheWriteFailed, "failed to encode identity session", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeCacheWriteFailed, "failed to write identity session", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.ErrCodeCacheWriteFailed, "failed to replace identity session", err)
	}
	return nil
}

// Clear deletes the session file.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrCodeCacheWriteFailed, "failed to remove identity session", err)
	}
	return nil
}
