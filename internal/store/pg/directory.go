package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
	"github.com/zebra-devops/marketedge-core/internal/tenant"
)

// Directory reads organizations and principals. Tenant-scoped methods run on
// a connection pinned to the tenant; credential lookups run unscoped because
// they happen before any tenant context exists.
type Directory struct {
	store *Store
}

var _ tenant.Directory = (*Directory)(nil)

// NewDirectory constructs a Directory over the store.
func NewDirectory(store *Store) *Directory { return &Directory{store: store} }

func (d *Directory) Organization(ctx context.Context, tenantID string) (tenant.Organization, error) {
	conn, err := d.store.ScopedConn(ctx, tenantID)
	if err != nil {
		return tenant.Organization{}, err
	}
	defer func() { _ = conn.Release(ctx) }()

	var org tenant.Organization
	var industry, tier sql.NullString
	err = conn.QueryRowContext(ctx, `
		select id, name, industry, subscription_tier, created_at, updated_at
		from organisations where id=$1
	`, tenantID).Scan(&org.ID, &org.Name, &industry, &tier, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Organization{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Organization{}, err
	}
	org.Industry = industry.String
	org.SubscriptionTier = tier.String
	return org, nil
}

func (d *Directory) Principals(ctx context.Context, tenantID string) ([]tenant.Principal, error) {
	conn, err := d.store.ScopedConn(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Release(ctx) }()

	rows, err := conn.QueryContext(ctx, `
		select id, organisation_id, email, role, active, created_at, updated_at
		from principals
		where organisation_id=$1
		order by created_at asc
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tenant.Principal
	for rows.Next() {
		var p tenant.Principal
		var role string
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Email, &role, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Role = rbac.Role(role)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *Directory) Principal(ctx context.Context, principalID string) (tenant.Principal, error) {
	var p tenant.Principal
	var role string
	err := d.store.db.QueryRowContext(ctx, `
		select id, organisation_id, email, role, active, created_at, updated_at
		from principals where id=$1
	`, principalID).Scan(&p.ID, &p.TenantID, &p.Email, &role, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Principal{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Principal{}, err
	}
	p.Role = rbac.Role(role)
	return p, nil
}

func (d *Directory) PrincipalByEmail(ctx context.Context, email string) (tenant.Principal, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	var p tenant.Principal
	var role string
	var hash sql.NullString
	err := d.store.db.QueryRowContext(ctx, `
		select id, organisation_id, email, role, active, password_hash, created_at, updated_at
		from principals where lower(email)=$1
	`, email).Scan(&p.ID, &p.TenantID, &p.Email, &role, &p.Active, &hash, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Principal{}, "", tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Principal{}, "", err
	}
	p.Role = rbac.Role(role)
	return p, hash.String, nil
}

func (d *Directory) Overrides(ctx context.Context, tenantID string) ([]rbac.FeatureOverride, error) {
	conn, err := d.store.ScopedConn(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Release(ctx) }()

	rows, err := conn.QueryContext(ctx, `
		select organisation_id, permission, enabled
		from feature_overrides
		where organisation_id=$1
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.FeatureOverride
	for rows.Next() {
		var o rbac.FeatureOverride
		var perm string
		if err := rows.Scan(&o.TenantID, &perm, &o.Enabled); err != nil {
			return nil, err
		}
		o.Permission = rbac.Permission(perm)
		out = append(out, o)
	}
	return out, rows.Err()
}
