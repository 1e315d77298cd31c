package rbac

// FeatureOverride grants or withdraws a single permission for one tenant,
// derived from the tenant's subscription entitlements.
type FeatureOverride struct {
	TenantID   string
	Permission Permission
	Enabled    bool
}

var baseGrants = map[Role][]Permission{
	RoleViewer:  {PermOrgRead, PermUserRead, PermFlagRead},
	RoleAnalyst: {PermOrgRead, PermUserRead, PermFlagRead, PermAuditRead},
	RoleAdmin: {
		PermOrgRead, PermOrgWrite,
		PermUserRead, PermUserWrite,
		PermFlagRead, PermFlagWrite,
		PermAuditRead,
	},
	RoleSuperAdmin: Catalog,
}

// Resolve computes the permission set for a role within a tenant, applying
// tenant-scoped feature overrides. It is a pure function and is recomputed
// per request. Overrides for other tenants are ignored, and the cross-tenant
// capability cannot be granted or withdrawn by an override.
func Resolve(role Role, tenantID string, overrides []FeatureOverride) PermissionSet {
	set := NewPermissionSet(baseGrants[role]...)
	for _, ov := range overrides {
		if ov.TenantID != tenantID || ov.Permission == PermCrossTenant {
			continue
		}
		if ov.Enabled {
			set[ov.Permission] = struct{}{}
		} else {
			delete(set, ov.Permission)
		}
	}
	return set
}
