package credstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tyemirov/gatekit/internal/authkit"
)

type fixedClock struct {
	timestamp time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.timestamp
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	// Minimum cost keeps hashing fast in tests.
	return NewService(NewMemoryUserStore(), fixedClock{timestamp: time.Unix(1700000000, 0).UTC()}, 4)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	registered, registerErr := service.Register(context.Background(), "a@x.com", "secret1", "")
	if registerErr != nil {
		t.Fatalf("unexpected register error: %v", registerErr)
	}
	if registered.ID == "" {
		t.Fatalf("expected generated user id")
	}
	if registered.Role != authkit.RoleViewer {
		t.Fatalf("expected viewer role by default, got %v", registered.Role)
	}

	authenticated, authErr := service.Authenticate(context.Background(), "a@x.com", "secret1")
	if authErr != nil {
		t.Fatalf("unexpected authenticate error: %v", authErr)
	}
	if authenticated.ID != registered.ID {
		t.Fatalf("authenticated user does not match registered user")
	}
}

func TestRegisterNeverStoresPlaintextPassword(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	user, registerErr := service.Register(context.Background(), "a@x.com", "hunter2-plaintext", "")
	if registerErr != nil {
		t.Fatalf("unexpected register error: %v", registerErr)
	}
	if strings.Contains(user.PasswordHash, "hunter2-plaintext") {
		t.Fatalf("password digest contains the plaintext password")
	}
	if !strings.HasPrefix(user.PasswordHash, "$2") {
		t.Fatalf("expected a bcrypt digest, got %q", user.PasswordHash)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	if _, err := service.Register(context.Background(), "", "secret1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing email, got %v", err)
	}
	if _, err := service.Register(context.Background(), "a@x.com", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing password, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	if _, err := service.Register(context.Background(), "a@x.com", "secret1", ""); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if _, err := service.Register(context.Background(), "a@x.com", "other-password", ""); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	// Email uniqueness is case-insensitive.
	if _, err := service.Register(context.Background(), "A@X.COM", "other-password", ""); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse for different casing, got %v", err)
	}
}

func TestRegisterRoleAllowList(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	admin, adminErr := service.Register(context.Background(), "admin@x.com", "secret1", "admin")
	if adminErr != nil {
		t.Fatalf("unexpected register error: %v", adminErr)
	}
	if admin.Role != authkit.RoleAdmin {
		t.Fatalf("expected admin role when explicitly requested, got %v", admin.Role)
	}

	sneaky, sneakyErr := service.Register(context.Background(), "sneaky@x.com", "secret1", "superuser")
	if sneakyErr != nil {
		t.Fatalf("unexpected register error: %v", sneakyErr)
	}
	if sneaky.Role != authkit.RoleViewer {
		t.Fatalf("expected unknown role hints to collapse to viewer, got %v", sneaky.Role)
	}
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	if _, err := service.Register(context.Background(), "a@x.com", "secret1", ""); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	if _, err := service.Authenticate(context.Background(), "unknown@x.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "a@x.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
}

func TestConcurrentRegistrationsSameEmail(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	const attempts = 16

	var waitGroup sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.Register(context.Background(), "race@x.com", "secret1", "")
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, ErrEmailInUse) {
			t.Fatalf("unexpected error from concurrent registration: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one registration to succeed, got %d", succeeded)
	}
}
