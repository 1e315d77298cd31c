package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/zebra-devops/marketedge-core/internal/obs"
	"github.com/zebra-devops/marketedge-core/internal/rbac"
	"github.com/zebra-devops/marketedge-core/internal/tenant"
	"github.com/zebra-devops/marketedge-core/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// overrideHeader marks an explicit cross-tenant access request. The flag
	// alone grants nothing; role and capability checks still apply.
	overrideHeader = "X-Cross-Tenant-Override"

	// signInAgain is the only detail unauthenticated callers get. Specific
	// failure causes go to logs and metrics, never to the response.
	signInAgain = "please sign in again"

	// insufficientPrivileges is the generic authorization denial.
	insufficientPrivileges = "insufficient privileges"
)

var publicPaths = map[string]bool{
	"/":                true,
	"/healthz":         true,
	"/readyz":          true,
	"/metrics":         true,
	"/v1/info":         true,
	"/v1/auth/login":   true,
	"/v1/auth/refresh": true,
	"/v1/auth/logout":  true,
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.IncTokenVerification("missing")
			writeError(w, r, http.StatusUnauthorized, signInAgain)
			return
		}

		payload, err := a.opts.Verifier.Verify(r.Context(), raw)
		if err != nil {
			obs.IncTokenVerification(verifyResult(err))
			writeError(w, r, http.StatusUnauthorized, signInAgain)
			return
		}

		cs, err := a.opts.Extractor.Extract(payload)
		if err != nil {
			obs.IncTokenVerification("missing_claims")
			writeError(w, r, http.StatusUnauthorized, signInAgain)
			return
		}

		overrides, err := a.opts.Directory.Overrides(r.Context(), cs.TenantID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		perms := rbac.Resolve(cs.Role, cs.TenantID, overrides)

		tc, err := tenant.New(cs.Subject, cs.TenantID, cs.Role, perms)
		if err != nil {
			obs.IncTokenVerification("missing_claims")
			writeError(w, r, http.StatusUnauthorized, signInAgain)
			return
		}

		obs.IncTokenVerification("ok")
		next.ServeHTTP(w, r.WithContext(tenant.WithContext(r.Context(), tc)))
	})
}

// mustTenant pulls the authenticated context; the auth middleware guarantees
// it on non-public paths, this guards direct handler use in tests.
func mustTenant(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, signInAgain)
		return tenant.Context{}, false
	}
	return tc, true
}

func crossTenantOverride(r *http.Request) bool {
	v := strings.TrimSpace(r.Header.Get(overrideHeader))
	return strings.EqualFold(v, "true") || v == "1"
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func verifyResult(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, token.ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, token.ErrAudienceMismatch):
		return "audience_mismatch"
	default:
		return "malformed"
	}
}
