package authkit

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"
)

// DefaultSigningKeyPlaceholder ships as the development secret. A production
// deployment must replace it; Validate refuses the combination.
const DefaultSigningKeyPlaceholder = "dev-secret-change-me"

// TokenConfig configures signing key material, issuer, and token lifetimes.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Production bool
	Clock      Clock
}

// Validate checks the configuration before any token is minted. The production
// check runs here so the entry point can refuse to serve rather than halting
// from inside a config module.
func (configuration TokenConfig) Validate() error {
	if len(configuration.SigningKey) == 0 {
		return fmt.Errorf("authkit.config: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return fmt.Errorf("authkit.config: %w", ErrMissingIssuer)
	}
	if configuration.AccessTTL <= 0 || configuration.RefreshTTL <= 0 {
		return fmt.Errorf("authkit.config: %w", ErrInvalidTTL)
	}
	if configuration.Production && subtle.ConstantTimeCompare(configuration.SigningKey, []byte(DefaultSigningKeyPlaceholder)) == 1 {
		return fmt.Errorf("authkit.config: %w", ErrDefaultKeyInProduction)
	}
	return nil
}
