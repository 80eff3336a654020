package credstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tyemirov/gatekit/internal/authkit"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("credstore.db.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("credstore.db.empty_database_url")
	errSQLiteEmptyPath     = errors.New("credstore.db.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("credstore.db.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("credstore.db.unsupported_no_scheme")
)

// DatabaseUserStore persists users using GORM behind the UserStore interface.
type DatabaseUserStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseUserStore) Driver() string {
	return store.driverLabel
}

type userRecord struct {
	ID            string `gorm:"column:id;primaryKey"`
	Email         string `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash  string `gorm:"column:password_hash;not null"`
	Role          string `gorm:"column:role;not null"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (userRecord) TableName() string {
	return "users"
}

// NewDatabaseUserStore constructs a GORM-backed store from a postgres:// or
// sqlite:// URL and migrates the users table.
func NewDatabaseUserStore(ctx context.Context, databaseURL string) (*DatabaseUserStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("credstore.db.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("credstore.db.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("credstore.db.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseUserStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Create inserts a user row. The unique index on email turns a duplicate
// insert into ErrEmailInUse regardless of racing writers.
func (store *DatabaseUserStore) Create(ctx context.Context, user User) error {
	record := userRecord{
		ID:            user.ID,
		Email:         normalizeEmail(user.Email),
		PasswordHash:  user.PasswordHash,
		Role:          user.Role.String(),
		CreatedAtUnix: user.CreatedAtUnix,
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("credstore.db.create.%s: %w", store.driverLabel, ErrEmailInUse)
		}
		return fmt.Errorf("credstore.db.create.%s: %w", store.driverLabel, err)
	}
	return nil
}

// FindByEmail returns the user registered under the email.
func (store *DatabaseUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("credstore.db.find_by_email.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("credstore.db.find_by_email.%s: %w", store.driverLabel, err)
	}
	return record.toUser(), nil
}

// FindByID returns the user with the given identifier.
func (store *DatabaseUserStore) FindByID(ctx context.Context, id string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("credstore.db.find_by_id.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("credstore.db.find_by_id.%s: %w", store.driverLabel, err)
	}
	return record.toUser(), nil
}

func (record userRecord) toUser() User {
	role, ok := authkit.ParseRole(record.Role)
	if !ok {
		role = authkit.RoleViewer
	}
	return User{
		ID:            record.ID,
		Email:         record.Email,
		PasswordHash:  record.PasswordHash,
		Role:          role,
		CreatedAtUnix: record.CreatedAtUnix,
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("credstore.db.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("credstore.db.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("credstore.db.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("credstore.db.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
