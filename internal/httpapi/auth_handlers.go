package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zebra-devops/marketedge-core/internal/audit"
	"github.com/zebra-devops/marketedge-core/internal/obs"
	"github.com/zebra-devops/marketedge-core/internal/rbac"
	"github.com/zebra-devops/marketedge-core/internal/refresh"
	"github.com/zebra-devops/marketedge-core/internal/tenant"
	"github.com/zebra-devops/marketedge-core/internal/token"
)

// Browser clients get the session as cookies. The refresh cookie is
// HTTP-only and scoped to the auth endpoints so it never rides along on data
// requests; the access cookie is readable so single-page apps can attach it
// as a bearer header.
const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	Principal    principal `json:"principal"`
	Permissions  []string  `json:"permissions"`
}

type principal struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	p, hash, err := a.opts.Directory.PrincipalByEmail(r.Context(), email)
	if err != nil || !p.Active || tenant.VerifyPassword(hash, req.Password) != nil {
		// One message for unknown email, wrong password and disabled
		// account.
		a.opts.Audit.Emit(r.Context(), audit.Entry{
			Action:  audit.ActionLoginFailed,
			Outcome: audit.OutcomeDenied,
			Detail:  map[string]any{"email": email},
		})
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	session, status, err := a.startSession(r, p)
	if err != nil {
		writeError(w, r, status, "login failed")
		return
	}
	a.opts.Audit.Emit(r.Context(), audit.Entry{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Action:      audit.ActionLogin,
	})
	a.setSessionCookies(w, session)
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := a.refreshTokenFromRequest(w, r)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, signInAgain)
		return
	}

	res, err := a.opts.Refresh.Refresh(r.Context(), raw)
	switch {
	case err == nil:
	case errors.Is(err, refresh.ErrReuseDetected):
		obs.IncRefreshRotation("reuse")
		a.clearSessionCookies(w)
		writeError(w, r, http.StatusUnauthorized, signInAgain)
		return
	case errors.Is(err, refresh.ErrInFlight):
		obs.IncRefreshRotation("conflict")
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusConflict, "refresh already in progress")
		return
	default:
		obs.IncRefreshRotation("invalid")
		a.clearSessionCookies(w)
		writeError(w, r, http.StatusUnauthorized, signInAgain)
		return
	}

	obs.IncRefreshRotation("ok")
	session, status, err := a.sessionFor(r, res.Principal, res.Token)
	if err != nil {
		writeError(w, r, status, "refresh failed")
		return
	}
	a.opts.Audit.Emit(r.Context(), audit.Entry{
		PrincipalID: res.Principal.ID,
		TenantID:    res.TenantID,
		Action:      audit.ActionRefresh,
		Detail:      map[string]any{"family_id": res.FamilyID},
	})
	a.setSessionCookies(w, session)
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := a.refreshTokenFromRequest(w, r)
	if raw != "" {
		if err := a.opts.Refresh.Revoke(r.Context(), raw); err != nil {
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
		a.opts.Audit.Emit(r.Context(), audit.Entry{Action: audit.ActionLogout})
	}
	a.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// startSession issues a fresh refresh family plus an access token.
func (a *API) startSession(r *http.Request, p tenant.Principal) (sessionResponse, int, error) {
	rt, err := a.opts.Refresh.Issue(r.Context(), p)
	if err != nil {
		return sessionResponse{}, http.StatusInternalServerError, err
	}
	return a.sessionFor(r, p, rt)
}

// sessionFor mints an access token for the principal and assembles the
// session payload around the given refresh token.
func (a *API) sessionFor(r *http.Request, p tenant.Principal, refreshToken string) (sessionResponse, int, error) {
	overrides, err := a.opts.Directory.Overrides(r.Context(), p.TenantID)
	if err != nil {
		return sessionResponse{}, http.StatusInternalServerError, err
	}
	perms := rbac.Resolve(p.Role, p.TenantID, overrides)

	access, exp, err := a.opts.Issuer.AccessToken(token.AccessParams{
		Subject:     p.ID,
		TenantID:    p.TenantID,
		Role:        p.Role,
		Permissions: perms.Sorted(),
	})
	if err != nil {
		return sessionResponse{}, http.StatusInternalServerError, err
	}

	return sessionResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresAt:   exp,
		Principal: principal{
			ID:       p.ID,
			TenantID: p.TenantID,
			Email:    p.Email,
			Role:     string(p.Role),
		},
		Permissions:  perms.Sorted(),
		RefreshToken: refreshToken,
	}, http.StatusOK, nil
}

func (a *API) refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
		return c.Value
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}

func (a *API) setSessionCookies(w http.ResponseWriter, session sessionResponse) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    session.RefreshToken,
		Path:     "/v1/auth",
		MaxAge:   int(a.opts.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    session.AccessToken,
		Path:     "/",
		Expires:  session.ExpiresAt,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
