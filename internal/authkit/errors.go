package authkit

import "errors"

var (
	// ErrMissingToken indicates the Authorization header is absent or not a bearer credential.
	ErrMissingToken = errors.New("authkit.missing_token")
	// ErrInvalidToken indicates a token failed signature, shape, issuer, or expiry checks.
	ErrInvalidToken = errors.New("authkit.invalid_token")
	// ErrUnauthorized indicates a role guard ran without verified claims on the request.
	ErrUnauthorized = errors.New("authkit.unauthorized")
	// ErrForbidden indicates the verified role is not in the guard's allowed set.
	ErrForbidden = errors.New("authkit.forbidden")

	// ErrMissingSigningKey indicates the token service was configured without key material.
	ErrMissingSigningKey = errors.New("authkit.config.missing_signing_key")
	// ErrMissingIssuer indicates the token service was configured without an issuer.
	ErrMissingIssuer = errors.New("authkit.config.missing_issuer")
	// ErrInvalidTTL indicates a non-positive token lifetime.
	ErrInvalidTTL = errors.New("authkit.config.invalid_ttl")
	// ErrDefaultKeyInProduction indicates the shipped placeholder secret with the production flag set.
	ErrDefaultKeyInProduction = errors.New("authkit.config.default_signing_key_in_production")
)
