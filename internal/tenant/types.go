package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
)

// ErrNotFound indicates the directory has no matching record.
var ErrNotFound = errors.New("tenant: not found")

// Organization is an isolation boundary.
type Organization struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Industry         string    `json:"industry,omitempty"`
	SubscriptionTier string    `json:"subscription_tier,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Principal is an authenticated end user, mirrored read-only from the
// identity provider for authorization lookups. A principal belongs to
// exactly one tenant.
type Principal struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Directory exposes the read side of the tenant store that the
// authentication core needs. Tenant-scoped methods must only be reachable
// through a connection scoped to the same tenant id they were called with.
type Directory interface {
	// Organization loads one tenant's record, scoped to that tenant.
	Organization(ctx context.Context, tenantID string) (Organization, error)

	// Principals lists the principals of one tenant, scoped to that tenant.
	Principals(ctx context.Context, tenantID string) ([]Principal, error)

	// Principal resolves a principal by id for the credential paths
	// (refresh); the identity tables permit this lookup pre-context.
	Principal(ctx context.Context, principalID string) (Principal, error)

	// PrincipalByEmail resolves login credentials; returns the principal and
	// its password hash.
	PrincipalByEmail(ctx context.Context, email string) (Principal, string, error)

	// Overrides returns the tenant's feature entitlements for permission
	// resolution, scoped to that tenant.
	Overrides(ctx context.Context, tenantID string) ([]rbac.FeatureOverride, error)
}
