package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tyemirov/gatekit/internal/authkit"
)

// DefaultBcryptCost matches the cost the service has always hashed with.
const DefaultBcryptCost = 10

// Service registers and authenticates users against an injected UserStore.
// Plaintext passwords pass through bcrypt and are never stored or logged.
type Service struct {
	store      UserStore
	clock      authkit.Clock
	bcryptCost int
}

// NewService constructs a Service. A nil clock falls back to the system clock;
// a non-positive cost falls back to DefaultBcryptCost.
func NewService(store UserStore, clock authkit.Clock, bcryptCost int) *Service {
	if store == nil {
		panic("credstore: user store is required")
	}
	if clock == nil {
		clock = authkit.NewSystemClock()
	}
	if bcryptCost <= 0 {
		bcryptCost = DefaultBcryptCost
	}
	return &Service{store: store, clock: clock, bcryptCost: bcryptCost}
}

// Register creates a user. The stored role is admin only when the hint
// explicitly requests it; any other value collapses to viewer.
func (service *Service) Register(ctx context.Context, email string, password string, roleHint string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, fmt.Errorf("credstore.register: %w", ErrInvalidInput)
	}
	digest, hashErr := bcrypt.GenerateFromPassword([]byte(password), service.bcryptCost)
	if hashErr != nil {
		return User{}, fmt.Errorf("credstore.register.hash: %w", hashErr)
	}
	user := User{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  string(digest),
		Role:          authkit.RegistrationRole(roleHint),
		CreatedAtUnix: service.clock.Now().Unix(),
	}
	if createErr := service.store.Create(ctx, user); createErr != nil {
		return User{}, createErr
	}
	return user, nil
}

// GetByID returns the stored user for an already-verified token subject.
func (service *Service) GetByID(ctx context.Context, id string) (User, error) {
	return service.store.FindByID(ctx, id)
}

// Authenticate verifies the password against the stored digest. An unknown
// email and a wrong password fail identically with ErrInvalidCredentials;
// bcrypt's digest comparison is constant-time.
func (service *Service) Authenticate(ctx context.Context, email string, password string) (User, error) {
	user, findErr := service.store.FindByEmail(ctx, email)
	if findErr != nil {
		if errors.Is(findErr, ErrUserNotFound) {
			return User{}, fmt.Errorf("credstore.authenticate: %w", ErrInvalidCredentials)
		}
		return User{}, findErr
	}
	if compareErr := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); compareErr != nil {
		return User{}, fmt.Errorf("credstore.authenticate: %w", ErrInvalidCredentials)
	}
	return user, nil
}
