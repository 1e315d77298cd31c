package claims

import (
	"errors"
	"testing"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
)

const ns = DefaultNamespace

func TestExtractLegacyClaims(t *testing.T) {
	e := NewExtractor("")
	cs, err := e.Extract(map[string]any{
		"sub":       "user-1",
		"tenant_id": "T1",
		"role":      "admin",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cs.TenantID != "T1" || cs.Role != rbac.RoleAdmin {
		t.Fatalf("unexpected claim set: %+v", cs)
	}
}

func TestExtractNamespacedClaims(t *testing.T) {
	e := NewExtractor("")
	cs, err := e.Extract(map[string]any{
		"sub":             "user-1",
		ns + "tenant_id":   "T2",
		ns + "role":        "viewer",
		ns + "permissions": []any{"org.read", "org.read", "flag.read"},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cs.TenantID != "T2" || cs.Role != rbac.RoleViewer {
		t.Fatalf("unexpected claim set: %+v", cs)
	}
	if len(cs.Permissions) != 2 {
		t.Fatalf("permissions not deduplicated: %v", cs.Permissions)
	}
}

func TestNamespacedClaimsAlwaysWin(t *testing.T) {
	e := NewExtractor("")
	cs, err := e.Extract(map[string]any{
		"sub":           "user-1",
		ns + "tenant_id": "T2",
		"tenant_id":     "T1",
		ns + "role":      "analyst",
		"role":          "admin",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cs.TenantID != "T2" {
		t.Fatalf("namespaced tenant must win, got %s", cs.TenantID)
	}
	if cs.Role != rbac.RoleAnalyst {
		t.Fatalf("namespaced role must win, got %s", cs.Role)
	}
}

func TestNamespacedTenantWithLegacyRole(t *testing.T) {
	// Precedence is per claim, not per layout: a token mid-migration may mix
	// the two.
	e := NewExtractor("")
	cs, err := e.Extract(map[string]any{
		"sub":           "user-1",
		ns + "tenant_id": "T2",
		"role":          "admin",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cs.TenantID != "T2" || cs.Role != rbac.RoleAdmin {
		t.Fatalf("unexpected claim set: %+v", cs)
	}
}

func TestExtractFailsClosed(t *testing.T) {
	e := NewExtractor("")

	if _, err := e.Extract(map[string]any{"sub": "u", "role": "admin"}); !errors.Is(err, ErrMissingTenantContext) {
		t.Fatalf("expected ErrMissingTenantContext, got %v", err)
	}
	if _, err := e.Extract(map[string]any{"sub": "u", "tenant_id": "T1"}); !errors.Is(err, ErrMissingRole) {
		t.Fatalf("expected ErrMissingRole, got %v", err)
	}
	if _, err := e.Extract(map[string]any{"tenant_id": "T1", "role": "admin"}); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
	if _, err := e.Extract(map[string]any{"sub": "u", "tenant_id": "T1", "role": "owner"}); !errors.Is(err, rbac.ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	// Empty strings are treated as absent, not as values.
	if _, err := e.Extract(map[string]any{"sub": "u", "tenant_id": "  ", "role": "admin"}); !errors.Is(err, ErrMissingTenantContext) {
		t.Fatalf("expected ErrMissingTenantContext for blank tenant, got %v", err)
	}
}

func TestExtraClaimsPreserved(t *testing.T) {
	e := NewExtractor("")
	cs, err := e.Extract(map[string]any{
		"sub":            "user-1",
		"tenant_id":      "T1",
		"role":           "admin",
		"exp":            float64(123),
		ns + "industry":   "retail",
		"session_source": "sso",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cs.Extra["industry"] != "retail" || cs.Extra["session_source"] != "sso" {
		t.Fatalf("extras missing: %+v", cs.Extra)
	}
	if _, ok := cs.Extra["exp"]; ok {
		t.Fatalf("standard claims must not leak into extras")
	}
}

func TestCustomNamespace(t *testing.T) {
	e := NewExtractor("https://other.example.com")
	cs, err := e.Extract(map[string]any{
		"sub": "user-1",
		"https://other.example.com/tenant_id": "T9",
		"https://other.example.com/role":      "viewer",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if cs.TenantID != "T9" {
		t.Fatalf("custom namespace not honored: %+v", cs)
	}
}
