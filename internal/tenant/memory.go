package tenant

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
)

// MemoryDirectory is an in-memory Directory used in development mode and in
// tests. It enforces the same tenant scoping as the Postgres directory.
type MemoryDirectory struct {
	mu         sync.RWMutex
	orgs       map[string]Organization
	principals map[string]Principal
	passwords  map[string]string // principal id -> hash
	overrides  map[string][]rbac.FeatureOverride
}

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		orgs:       make(map[string]Organization),
		principals: make(map[string]Principal),
		passwords:  make(map[string]string),
		overrides:  make(map[string][]rbac.FeatureOverride),
	}
}

// AddOrganization registers a tenant.
func (d *MemoryDirectory) AddOrganization(org Organization) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	org.UpdatedAt = org.CreatedAt
	d.orgs[org.ID] = org
}

// AddPrincipal registers a principal with its password hash.
func (d *MemoryDirectory) AddPrincipal(p Principal, passwordHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	d.principals[p.ID] = p
	if passwordHash != "" {
		d.passwords[p.ID] = passwordHash
	}
}

// SetOverrides replaces a tenant's feature overrides.
func (d *MemoryDirectory) SetOverrides(tenantID string, overrides []rbac.FeatureOverride) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overrides[tenantID] = overrides
}

func (d *MemoryDirectory) Organization(_ context.Context, tenantID string) (Organization, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	org, ok := d.orgs[tenantID]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (d *MemoryDirectory) Principals(_ context.Context, tenantID string) ([]Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Principal
	for _, p := range d.principals {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) Principal(_ context.Context, principalID string) (Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.principals[principalID]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) PrincipalByEmail(_ context.Context, email string) (Principal, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.principals {
		if strings.ToLower(p.Email) == email {
			return p, d.passwords[p.ID], nil
		}
	}
	return Principal{}, "", ErrNotFound
}

func (d *MemoryDirectory) Overrides(_ context.Context, tenantID string) ([]rbac.FeatureOverride, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]rbac.FeatureOverride, len(d.overrides[tenantID]))
	copy(out, d.overrides[tenantID])
	return out, nil
}

var _ Directory = (*MemoryDirectory)(nil)
