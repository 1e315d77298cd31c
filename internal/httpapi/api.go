// Package httpapi is the HTTP edge: authentication middleware, the auth
// endpoints, and tenant-scoped lookups.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/zebra-devops/marketedge-core/internal/audit"
	"github.com/zebra-devops/marketedge-core/internal/claims"
	"github.com/zebra-devops/marketedge-core/internal/obs"
	"github.com/zebra-devops/marketedge-core/internal/refresh"
	"github.com/zebra-devops/marketedge-core/internal/tenant"
	"github.com/zebra-devops/marketedge-core/internal/token"
)

// Options carry the API's dependencies.
type Options struct {
	Verifier  *token.Verifier
	Extractor claims.Extractor
	Directory tenant.Directory
	Refresh   *refresh.Coordinator
	Issuer    *token.Issuer
	Audit     *audit.Emitter

	Version      string
	CookieSecure bool
	RefreshTTL   time.Duration

	// Ready is polled by /readyz; nil means always ready.
	Ready func(context.Context) error

	RateLimitRPS   float64
	RateLimitBurst int
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	opts Options
}

// New wires the routes.
func New(opts Options) (*API, error) {
	if opts.Verifier == nil || opts.Directory == nil || opts.Refresh == nil ||
		opts.Issuer == nil || opts.Audit == nil {
		return nil, errors.New("httpapi: verifier, directory, refresh, issuer and audit are required")
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = refresh.DefaultTTL
	}
	a := &API{mux: http.NewServeMux(), opts: opts}

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	a.mux.HandleFunc("GET /v1/info", a.handleInfo)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("GET /v1/me", a.handleMe)
	a.mux.HandleFunc("GET /v1/users", a.handleUsers)
	a.mux.HandleFunc("GET /v1/organisations/current", a.handleOrganisationCurrent)
	a.mux.HandleFunc("GET /v1/organisations/{id}", a.handleOrganisation)
	a.mux.HandleFunc("GET /v1/organisations/{id}/users", a.handleOrganisationUsers)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a, nil
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	if a.opts.RateLimitRPS > 0 {
		h = limitAuthRoutes(h, a.opts.RateLimitBurst, a.opts.RateLimitRPS)
	}
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "marketedge-api",
		"version": a.opts.Version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "marketedge-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// limitAuthRoutes applies the credential-stuffing rate limiter to the auth
// endpoints only; authenticated data reads are not throttled by it.
func limitAuthRoutes(next http.Handler, burst int, perSecond float64) http.Handler {
	limited := RateLimit(next, burst, perSecond)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/auth/") {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
