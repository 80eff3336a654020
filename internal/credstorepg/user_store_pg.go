package credstorepg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tyemirov/gatekit/internal/authkit"
	"github.com/tyemirov/gatekit/internal/credstore"
)

const uniqueViolationCode = "23505"

// PostgresUserStore persists users in PostgreSQL over a pgx pool, as an
// alternative to the GORM-backed store for deployments that already run pgx.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore constructs a Postgres store.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// Create inserts a user row. The unique constraint on email maps a concurrent
// duplicate insert onto credstore.ErrEmailInUse.
func (store *PostgresUserStore) Create(ctx context.Context, user credstore.User) error {
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO users (id, email, password_hash, role, created_at_unix)
VALUES ($1, $2, $3, $4, $5)
`, user.ID, strings.ToLower(strings.TrimSpace(user.Email)), user.PasswordHash, user.Role.String(), user.CreatedAtUnix)
	if execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("credstore.pg.create: %w", credstore.ErrEmailInUse)
		}
		return fmt.Errorf("credstore.pg.create: %w", execErr)
	}
	return nil
}

// FindByEmail returns the user registered under the email.
func (store *PostgresUserStore) FindByEmail(ctx context.Context, email string) (credstore.User, error) {
	row := store.pool.QueryRow(ctx, `
SELECT id, email, password_hash, role, created_at_unix
FROM users
WHERE email = $1
`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row, "credstore.pg.find_by_email")
}

// FindByID returns the user with the given identifier.
func (store *PostgresUserStore) FindByID(ctx context.Context, id string) (credstore.User, error) {
	row := store.pool.QueryRow(ctx, `
SELECT id, email, password_hash, role, created_at_unix
FROM users
WHERE id = $1
`, id)
	return scanUser(row, "credstore.pg.find_by_id")
}

func scanUser(row pgx.Row, code string) (credstore.User, error) {
	var id string
	var email string
	var passwordHash string
	var roleValue string
	var createdAtUnix int64
	if scanErr := row.Scan(&id, &email, &passwordHash, &roleValue, &createdAtUnix); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return credstore.User{}, fmt.Errorf("%s: %w", code, credstore.ErrUserNotFound)
		}
		return credstore.User{}, fmt.Errorf("%s: %w", code, scanErr)
	}
	role, ok := authkit.ParseRole(roleValue)
	if !ok {
		role = authkit.RoleViewer
	}
	return credstore.User{
		ID:            id,
		Email:         email,
		PasswordHash:  passwordHash,
		Role:          role,
		CreatedAtUnix: createdAtUnix,
	}, nil
}
