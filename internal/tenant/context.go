// Package tenant defines the per-request tenant context and the isolation
// decision every datastore access and authorization check derives from.
package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
)

var (
	// ErrNoContext indicates a code path that requires an authenticated
	// tenant context ran without one.
	ErrNoContext = errors.New("tenant: no tenant context")

	// ErrTenantMismatch indicates an attempt to touch another tenant's data
	// without the cross-tenant capability.
	ErrTenantMismatch = errors.New("tenant: tenant mismatch")

	// ErrCrossTenantOverrideMissing indicates a capable caller attempted a
	// cross-tenant action without the explicit override flag.
	ErrCrossTenantOverrideMissing = errors.New("tenant: cross-tenant override missing")
)

// Context is the per-request authentication result. It is a value object,
// never persisted, and it is the only input downstream code may use to
// decide what data is visible. The tenant id always comes from the verified
// token; no code path may substitute a different one.
type Context struct {
	PrincipalID string
	TenantID    string
	Role        rbac.Role
	Permissions rbac.PermissionSet
}

// New validates and constructs a Context.
func New(principalID, tenantID string, role rbac.Role, perms rbac.PermissionSet) (Context, error) {
	principalID = strings.TrimSpace(principalID)
	tenantID = strings.TrimSpace(tenantID)
	if principalID == "" || tenantID == "" {
		return Context{}, errors.New("tenant: principal id and tenant id are required")
	}
	if _, err := rbac.ParseRole(string(role)); err != nil {
		return Context{}, err
	}
	if perms == nil {
		perms = rbac.NewPermissionSet()
	}
	return Context{
		PrincipalID: principalID,
		TenantID:    tenantID,
		Role:        role,
		Permissions: perms,
	}, nil
}

// Can reports whether the context holds the permission.
func (tc Context) Can(p rbac.Permission) bool {
	return tc.Permissions.Has(p)
}

// AuthorizeTenant decides whether this context may act on targetTenantID.
// Same-tenant access is always permitted. Cross-tenant access requires all
// three legs: the super-admin role, the cross-tenant capability, and the
// caller's explicit override flag. Each missing leg denies.
func (tc Context) AuthorizeTenant(targetTenantID string, override bool) error {
	if targetTenantID == tc.TenantID && targetTenantID != "" {
		return nil
	}
	if tc.Role != rbac.RoleSuperAdmin || !tc.Permissions.Has(rbac.PermCrossTenant) {
		return ErrTenantMismatch
	}
	if !override {
		return ErrCrossTenantOverrideMissing
	}
	return nil
}

type contextKey struct{}

// WithContext attaches the tenant context to the request context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the tenant context, if the request is authenticated.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(contextKey{}).(Context)
	if !ok || tc.TenantID == "" {
		return Context{}, false
	}
	return tc, true
}
