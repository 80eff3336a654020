package authkit

import "strings"

// Role is the closed set of roles a user can hold.
type Role string

const (
	// RoleViewer is the default unprivileged role assigned at registration.
	RoleViewer Role = "viewer"
	// RoleAdmin is the only privileged role a registration may request.
	RoleAdmin Role = "admin"
)

// ParseRole normalizes a free-form role string into the closed enum.
// Unknown values report ok=false so callers never store unchecked input.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleViewer:
		return RoleViewer, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// RegistrationRole maps a client-declared role hint to the role that is
// actually stored: admin when explicitly requested, viewer otherwise.
func RegistrationRole(roleHint string) Role {
	parsed, ok := ParseRole(roleHint)
	if ok && parsed == RoleAdmin {
		return RoleAdmin
	}
	return RoleViewer
}

// String returns the role as its wire representation.
func (role Role) String() string {
	return string(role)
}
