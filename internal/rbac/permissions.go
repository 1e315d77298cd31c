package rbac

import "sort"

// Permission is a fine-grained capability key.
type Permission string

const (
	PermOrgRead   Permission = "org.read"
	PermOrgWrite  Permission = "org.write"
	PermUserRead  Permission = "user.read"
	PermUserWrite Permission = "user.write"
	PermFlagRead  Permission = "flag.read"
	PermFlagWrite Permission = "flag.write"
	PermAuditRead Permission = "audit.read"

	// PermCrossTenant marks the capability to act outside the caller's own
	// tenant. It is granted by role only, never by feature overrides, and is
	// necessary but not sufficient: call sites still require an explicit
	// override flag.
	PermCrossTenant Permission = "tenant.cross"
)

// Catalog lists every permission the platform knows about.
var Catalog = []Permission{
	PermOrgRead, PermOrgWrite,
	PermUserRead, PermUserWrite,
	PermFlagRead, PermFlagWrite,
	PermAuditRead,
	PermCrossTenant,
}

// PermissionSet is a derived, per-request capability set. It is never
// persisted and never cached across requests.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the permission.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the permission keys in stable order, for tokens and logs.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}
