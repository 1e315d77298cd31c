package httpapi

import (
	"errors"
	"net/http"

	"github.com/zebra-devops/marketedge-core/internal/audit"
	"github.com/zebra-devops/marketedge-core/internal/obs"
	"github.com/zebra-devops/marketedge-core/internal/rbac"
	"github.com/zebra-devops/marketedge-core/internal/tenant"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	tc, ok := mustTenant(w, r)
	if !ok {
		return
	}
	p, err := a.opts.Directory.Principal(r.Context(), tc.PrincipalID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, signInAgain)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": principal{
			ID:       p.ID,
			TenantID: p.TenantID,
			Email:    p.Email,
			Role:     string(p.Role),
		},
		"permissions": tc.Permissions.Sorted(),
	})
}

// handleOrganisationCurrent is the common case: the caller's own tenant.
func (a *API) handleOrganisationCurrent(w http.ResponseWriter, r *http.Request) {
	tc, ok := mustTenant(w, r)
	if !ok {
		return
	}
	a.serveOrganisation(w, r, tc, tc.TenantID)
}

func (a *API) handleOrganisation(w http.ResponseWriter, r *http.Request) {
	tc, ok := mustTenant(w, r)
	if !ok {
		return
	}
	a.serveOrganisation(w, r, tc, r.PathValue("id"))
}

func (a *API) serveOrganisation(w http.ResponseWriter, r *http.Request, tc tenant.Context, targetID string) {
	if !a.authorizeTenantAccess(w, r, tc, targetID, rbac.PermOrgRead) {
		return
	}
	org, err := a.opts.Directory.Organization(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "organisation not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// handleUsers lists the caller's own tenant's users.
func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	tc, ok := mustTenant(w, r)
	if !ok {
		return
	}
	a.serveUsers(w, r, tc, tc.TenantID)
}

func (a *API) handleOrganisationUsers(w http.ResponseWriter, r *http.Request) {
	tc, ok := mustTenant(w, r)
	if !ok {
		return
	}
	a.serveUsers(w, r, tc, r.PathValue("id"))
}

func (a *API) serveUsers(w http.ResponseWriter, r *http.Request, tc tenant.Context, targetID string) {
	if !a.authorizeTenantAccess(w, r, tc, targetID, rbac.PermUserRead) {
		return
	}
	users, err := a.opts.Directory.Principals(r.Context(), targetID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}
	out := make([]principal, 0, len(users))
	for _, u := range users {
		out = append(out, principal{
			ID:       u.ID,
			TenantID: u.TenantID,
			Email:    u.Email,
			Role:     string(u.Role),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

// authorizeTenantAccess runs the tenant isolation decision plus the
// permission check, and writes the denial response itself. Cross-tenant
// access is audited fail-closed before any data is touched: if the audit
// entry cannot be recorded the request is rejected.
func (a *API) authorizeTenantAccess(w http.ResponseWriter, r *http.Request, tc tenant.Context, targetID string, perm rbac.Permission) bool {
	if err := tc.AuthorizeTenant(targetID, crossTenantOverride(r)); err != nil {
		obs.IncCrossTenantDenial()
		a.opts.Audit.Emit(r.Context(), audit.Entry{
			PrincipalID:    tc.PrincipalID,
			TenantID:       tc.TenantID,
			TargetTenantID: targetID,
			Action:         audit.ActionAccessDenied,
			Outcome:        audit.OutcomeDenied,
			Detail:         map[string]any{"reason": err.Error()},
		})
		writeError(w, r, http.StatusForbidden, insufficientPrivileges)
		return false
	}
	if !tc.Can(perm) {
		a.opts.Audit.Emit(r.Context(), audit.Entry{
			PrincipalID:    tc.PrincipalID,
			TenantID:       tc.TenantID,
			TargetTenantID: targetID,
			Action:         audit.ActionAccessDenied,
			Outcome:        audit.OutcomeDenied,
			Detail:         map[string]any{"permission": string(perm)},
		})
		writeError(w, r, http.StatusForbidden, insufficientPrivileges)
		return false
	}
	if targetID != tc.TenantID {
		err := a.opts.Audit.EmitStrict(r.Context(), audit.Entry{
			PrincipalID:    tc.PrincipalID,
			TenantID:       tc.TenantID,
			TargetTenantID: targetID,
			Action:         audit.ActionCrossTenant,
			Detail:         map[string]any{"permission": string(perm), "path": r.URL.Path},
		})
		if err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "temporarily unavailable")
			return false
		}
	}
	return true
}
