package rbac

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole("  Admin ")
	if err != nil {
		t.Fatalf("ParseRole: %v", err)
	}
	if role != RoleAdmin {
		t.Fatalf("unexpected role: %s", role)
	}

	if _, err := ParseRole("owner"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if _, err := ParseRole(""); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole for empty input, got %v", err)
	}
}

func TestResolveBaseGrants(t *testing.T) {
	viewer := Resolve(RoleViewer, "t1", nil)
	if !viewer.Has(PermOrgRead) || viewer.Has(PermOrgWrite) {
		t.Fatalf("viewer grants wrong: %v", viewer.Sorted())
	}

	admin := Resolve(RoleAdmin, "t1", nil)
	if !admin.Has(PermOrgWrite) || !admin.Has(PermAuditRead) {
		t.Fatalf("admin grants wrong: %v", admin.Sorted())
	}
	if admin.Has(PermCrossTenant) {
		t.Fatalf("admin must not hold the cross-tenant capability")
	}

	super := Resolve(RoleSuperAdmin, "t1", nil)
	for _, p := range Catalog {
		if !super.Has(p) {
			t.Fatalf("super admin missing %s", p)
		}
	}
}

func TestResolveOverrides(t *testing.T) {
	overrides := []FeatureOverride{
		{TenantID: "t1", Permission: PermFlagWrite, Enabled: true},
		{TenantID: "t1", Permission: PermUserRead, Enabled: false},
		{TenantID: "t2", Permission: PermOrgWrite, Enabled: true}, // other tenant, ignored
		{TenantID: "t1", Permission: PermCrossTenant, Enabled: true},
	}

	set := Resolve(RoleViewer, "t1", overrides)
	if !set.Has(PermFlagWrite) {
		t.Fatalf("enabled override not applied: %v", set.Sorted())
	}
	if set.Has(PermUserRead) {
		t.Fatalf("disabled override not applied: %v", set.Sorted())
	}
	if set.Has(PermOrgWrite) {
		t.Fatalf("override for another tenant leaked in")
	}
	if set.Has(PermCrossTenant) {
		t.Fatalf("override must never grant the cross-tenant capability")
	}
}

func TestResolveIsRecomputedIndependently(t *testing.T) {
	a := Resolve(RoleViewer, "t1", nil)
	a[PermOrgWrite] = struct{}{}
	b := Resolve(RoleViewer, "t1", nil)
	if b.Has(PermOrgWrite) {
		t.Fatalf("resolver must not share state between calls")
	}
}
