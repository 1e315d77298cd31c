// Package claims normalizes verified token payloads into the internal claim
// set. It supports two layouts at once while the platform migrates to the
// identity provider's namespaced custom claims: namespaced keys are
// authoritative, bare legacy keys are the fallback. The package performs no
// I/O and no signature checks; callers must pass an already-verified payload.
package claims

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
)

// DefaultNamespace is the URI-style prefix the identity provider requires
// for custom claims.
const DefaultNamespace = "https://marketedge.app/"

var (
	// ErrMissingTenantContext indicates neither claim layout carried a
	// tenant id. No tenant context may be constructed from such a token.
	ErrMissingTenantContext = errors.New("claims: missing tenant context")

	// ErrMissingRole indicates neither claim layout carried a role.
	ErrMissingRole = errors.New("claims: missing role")

	// ErrMissingSubject indicates the token carried no principal id.
	ErrMissingSubject = errors.New("claims: missing subject")
)

// ClaimSet is the normalized result of extraction.
type ClaimSet struct {
	Subject     string
	TenantID    string
	Role        rbac.Role
	Permissions []string
	Extra       map[string]any
}

// Extractor resolves the dual claim layouts for a configured namespace.
type Extractor struct {
	namespace string
}

// NewExtractor returns an Extractor for the given claim namespace. An empty
// namespace falls back to DefaultNamespace.
func NewExtractor(namespace string) Extractor {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if !strings.HasSuffix(namespace, "/") {
		namespace += "/"
	}
	return Extractor{namespace: namespace}
}

// Extract produces the normalized claim set from a verified payload.
// Precedence is deterministic: for each custom claim the namespaced key wins
// whenever it is present, regardless of which other claims exist.
func (e Extractor) Extract(payload map[string]any) (ClaimSet, error) {
	sub, _ := payload["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return ClaimSet{}, ErrMissingSubject
	}

	tenantID, ok := e.stringClaim(payload, "tenant_id")
	if !ok {
		return ClaimSet{}, ErrMissingTenantContext
	}

	roleRaw, ok := e.stringClaim(payload, "role")
	if !ok {
		return ClaimSet{}, ErrMissingRole
	}
	role, err := rbac.ParseRole(roleRaw)
	if err != nil {
		return ClaimSet{}, fmt.Errorf("claims: %w", err)
	}

	cs := ClaimSet{
		Subject:     sub,
		TenantID:    tenantID,
		Role:        role,
		Permissions: e.permissionsClaim(payload),
		Extra:       e.extra(payload),
	}
	return cs, nil
}

// stringClaim resolves one custom claim: namespaced first, then legacy bare.
func (e Extractor) stringClaim(payload map[string]any, name string) (string, bool) {
	if v, ok := payload[e.namespace+name].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	if v, ok := payload[name].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

func (e Extractor) permissionsClaim(payload map[string]any) []string {
	raw, ok := payload[e.namespace+"permissions"]
	if !ok {
		raw, ok = payload["permissions"]
	}
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return dedupe(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return dedupe(out)
	default:
		return nil
	}
}

var consumedClaims = map[string]bool{
	"sub": true, "iss": true, "aud": true,
	"exp": true, "iat": true, "nbf": true, "jti": true,
	"tenant_id": true, "role": true, "permissions": true,
}

func (e Extractor) extra(payload map[string]any) map[string]any {
	extra := make(map[string]any)
	for k, v := range payload {
		name := strings.TrimPrefix(k, e.namespace)
		if consumedClaims[name] {
			continue
		}
		extra[name] = v
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
