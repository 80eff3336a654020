package credstore

import (
	"context"
	"errors"

	"github.com/tyemirov/gatekit/internal/authkit"
)

var (
	// ErrInvalidInput indicates a registration with a missing email or password.
	ErrInvalidInput = errors.New("credstore.invalid_input")
	// ErrEmailInUse indicates the email is already registered.
	ErrEmailInUse = errors.New("credstore.email_in_use")
	// ErrInvalidCredentials covers both an unknown email and a password
	// mismatch so responses cannot reveal which one failed.
	ErrInvalidCredentials = errors.New("credstore.invalid_credentials")
	// ErrUserNotFound indicates no user matched the identifier.
	ErrUserNotFound = errors.New("credstore.user_not_found")
)

// User is an application account. The password is held only as a bcrypt digest.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          authkit.Role
	CreatedAtUnix int64
}

// Identity converts the user into the claims subject minted into session tokens.
func (user User) Identity() authkit.Identity {
	return authkit.Identity{
		ID:    user.ID,
		Email: user.Email,
		Role:  user.Role,
	}
}

// UserStore persists user records. Create must reject a duplicate email
// atomically with the insert so concurrent registrations cannot both succeed.
type UserStore interface {
	Create(ctx context.Context, user User) error
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
}
