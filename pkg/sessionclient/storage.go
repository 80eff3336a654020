package sessionclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Storage keys used by FileTokenStorage. Fixed names so a session survives
// process restarts the way browser-local storage does.
const (
	accessTokenKey  = "access_token"
	refreshTokenKey = "refresh_token"
)

// ErrEmptyStoragePath indicates FileTokenStorage was built without a path.
var ErrEmptyStoragePath = errors.New("sessionclient.storage.empty_path")

// TokenStorage holds the session's access and refresh tokens. Implementations
// must be safe for concurrent use.
type TokenStorage interface {
	// Tokens returns the held access and refresh tokens; empty strings when absent.
	Tokens() (accessToken string, refreshToken string)
	// SetAccessToken replaces only the access token.
	SetAccessToken(accessToken string) error
	// SetTokens replaces both tokens, as after a login.
	SetTokens(accessToken string, refreshToken string) error
	// Clear drops both tokens.
	Clear() error
}

// MemoryTokenStorage keeps tokens in process memory for the session lifetime.
type MemoryTokenStorage struct {
	mutex        sync.Mutex
	accessToken  string
	refreshToken string
}

// NewMemoryTokenStorage constructs an empty in-memory storage.
func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{}
}

// Tokens returns the held tokens.
func (storage *MemoryTokenStorage) Tokens() (string, string) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	return storage.accessToken, storage.refreshToken
}

// SetAccessToken replaces the access token.
func (storage *MemoryTokenStorage) SetAccessToken(accessToken string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.accessToken = accessToken
	return nil
}

// SetTokens replaces both tokens.
func (storage *MemoryTokenStorage) SetTokens(accessToken string, refreshToken string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.accessToken = accessToken
	storage.refreshToken = refreshToken
	return nil
}

// Clear drops both tokens.
func (storage *MemoryTokenStorage) Clear() error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.accessToken = ""
	storage.refreshToken = ""
	return nil
}

// FileTokenStorage persists tokens as a JSON document on disk, the durable
// analog of browser-local storage. The file is written with 0600 permissions.
type FileTokenStorage struct {
	mutex        sync.Mutex
	path         string
	accessToken  string
	refreshToken string
}

// NewFileTokenStorage loads any previously persisted tokens from path.
func NewFileTokenStorage(path string) (*FileTokenStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sessionclient.storage.open: %w", ErrEmptyStoragePath)
	}
	storage := &FileTokenStorage{path: path}
	if loadErr := storage.load(); loadErr != nil {
		return nil, loadErr
	}
	return storage, nil
}

// Tokens returns the held tokens.
func (storage *FileTokenStorage) Tokens() (string, string) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	return storage.accessToken, storage.refreshToken
}

// SetAccessToken replaces the access token and persists.
func (storage *FileTokenStorage) SetAccessToken(accessToken string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.accessToken = accessToken
	return storage.persistLocked()
}

// SetTokens replaces both tokens and persists.
func (storage *FileTokenStorage) SetTokens(accessToken string, refreshToken string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.accessToken = accessToken
	storage.refreshToken = refreshToken
	return storage.persistLocked()
}

// Clear drops both tokens and removes the persisted file.
func (storage *FileTokenStorage) Clear() error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.accessToken = ""
	storage.refreshToken = ""
	if removeErr := os.Remove(storage.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("sessionclient.storage.clear: %w", removeErr)
	}
	return nil
}

func (storage *FileTokenStorage) load() error {
	data, readErr := os.ReadFile(storage.path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("sessionclient.storage.load: %w", readErr)
	}
	var document map[string]string
	if decodeErr := json.Unmarshal(data, &document); decodeErr != nil {
		return fmt.Errorf("sessionclient.storage.decode: %w", decodeErr)
	}
	storage.accessToken = document[accessTokenKey]
	storage.refreshToken = document[refreshTokenKey]
	return nil
}

func (storage *FileTokenStorage) persistLocked() error {
	document := map[string]string{
		accessTokenKey:  storage.accessToken,
		refreshTokenKey: storage.refreshToken,
	}
	data, encodeErr := json.Marshal(document)
	if encodeErr != nil {
		return fmt.Errorf("sessionclient.storage.encode: %w", encodeErr)
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(storage.path), 0o700); mkdirErr != nil {
		return fmt.Errorf("sessionclient.storage.persist: %w", mkdirErr)
	}
	if writeErr := os.WriteFile(storage.path, data, 0o600); writeErr != nil {
		return fmt.Errorf("sessionclient.storage.persist: %w", writeErr)
	}
	return nil
}
