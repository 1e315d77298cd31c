package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole indicates a role string outside the closed enumeration.
var ErrUnknownRole = errors.New("rbac: unknown role")

// Role is the closed set of roles a principal can hold within a tenant.
// New roles require a change here and in baseGrants, on purpose: permission
// checks must stay exhaustively matchable.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleAnalyst    Role = "analyst"
	RoleViewer     Role = "viewer"
)

// ParseRole normalizes and validates a role string from an external source.
func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case RoleSuperAdmin:
		return RoleSuperAdmin, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleAnalyst:
		return RoleAnalyst, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) String() string { return string(r) }
