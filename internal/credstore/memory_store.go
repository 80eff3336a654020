package credstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryUserStore keeps user records in process memory. Intended for tests,
// demos, and local runs; records do not survive a restart.
type MemoryUserStore struct {
	mutex   sync.Mutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryUserStore constructs an empty in-memory store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// Create inserts the user, failing with ErrEmailInUse when the email already
// exists. The uniqueness check and the insert happen under one lock.
func (store *MemoryUserStore) Create(ctx context.Context, user User) error {
	emailKey := normalizeEmail(user.Email)
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.byEmail[emailKey]; exists {
		return fmt.Errorf("credstore.memory.create: %w", ErrEmailInUse)
	}
	store.byID[user.ID] = user
	store.byEmail[emailKey] = user.ID
	return nil
}

// FindByEmail returns the user registered under the email, case-insensitively.
func (store *MemoryUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	userID, ok := store.byEmail[normalizeEmail(email)]
	if !ok {
		return User{}, fmt.Errorf("credstore.memory.find_by_email: %w", ErrUserNotFound)
	}
	return store.byID[userID], nil
}

// FindByID returns the user with the given identifier.
func (store *MemoryUserStore) FindByID(ctx context.Context, id string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, ok := store.byID[id]
	if !ok {
		return User{}, fmt.Errorf("credstore.memory.find_by_id: %w", ErrUserNotFound)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
