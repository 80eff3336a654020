package authkit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenUse distinguishes the two kinds of session tokens. Access and refresh
// tokens share signing key material; the use claim keeps them from being
// substituted for one another.
type TokenUse string

const (
	// TokenUseAccess marks short-lived tokens sent with every request.
	TokenUseAccess TokenUse = "access"
	// TokenUseRefresh marks long-lived tokens accepted only by the refresh endpoint.
	TokenUseRefresh TokenUse = "refresh"
)

// SessionClaims is the payload embedded in a signed session token.
type SessionClaims struct {
	UserEmail string `json:"user_email"`
	UserRole  string `json:"user_role"`
	TokenUse  string `json:"token_use"`
	jwt.RegisteredClaims
}

// Role returns the role claim as the closed enum, defaulting unknown values to viewer.
func (claims *SessionClaims) Role() Role {
	if claims == nil {
		return RoleViewer
	}
	parsed, ok := ParseRole(claims.UserRole)
	if !ok {
		return RoleViewer
	}
	return parsed
}

// UserID returns the token subject.
func (claims *SessionClaims) UserID() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// Identity is the subject a session token is minted for.
type Identity struct {
	ID    string
	Email string
	Role  Role
}

// TokenService issues and verifies signed session tokens. It holds no per-user
// state; validity is purely a function of signature and expiry.
type TokenService struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      Clock
}

// NewTokenService validates the configuration and constructs a TokenService.
func NewTokenService(configuration TokenConfig) (*TokenService, error) {
	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	clock := configuration.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	return &TokenService{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		accessTTL:  configuration.AccessTTL,
		refreshTTL: configuration.RefreshTTL,
		clock:      clock,
	}, nil
}

// IssueAccessToken mints a short-lived HS256 token carrying the identity claims.
func (service *TokenService) IssueAccessToken(identity Identity) (string, time.Time, error) {
	return service.mint(identity, TokenUseAccess, service.accessTTL)
}

// IssueRefreshToken mints a long-lived token accepted only for refresh exchanges.
func (service *TokenService) IssueRefreshToken(identity Identity) (string, time.Time, error) {
	return service.mint(identity, TokenUseRefresh, service.refreshTTL)
}

func (service *TokenService) mint(identity Identity, use TokenUse, ttl time.Duration) (string, time.Time, error) {
	if identity.ID == "" {
		return "", time.Time{}, fmt.Errorf("authkit.mint: subject must be non-empty")
	}
	issuedAt := service.clock.Now()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserEmail: identity.Email,
		UserRole:  identity.Role.String(),
		TokenUse:  string(use),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    service.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(service.signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("authkit.mint: %w", signErr)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token. Malformed tokens, bad
// signatures, foreign issuers, expired tokens, and tokens minted for a
// different use all fail with ErrInvalidToken.
func (service *TokenService) Verify(tokenString string, expectedUse TokenUse) (*SessionClaims, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return service.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return service.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("authkit.verify.expired: %w", ErrInvalidToken)
		}
		return nil, fmt.Errorf("authkit.verify: %w", ErrInvalidToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("authkit.verify: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("authkit.verify: %w", ErrInvalidToken)
	}
	if claims.Issuer != service.issuer {
		return nil, fmt.Errorf("authkit.verify.issuer: %w", ErrInvalidToken)
	}
	if claims.TokenUse != string(expectedUse) {
		return nil, fmt.Errorf("authkit.verify.use: %w", ErrInvalidToken)
	}
	return claims, nil
}
