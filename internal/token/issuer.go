package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
)

const defaultAccessTTL = 15 * time.Minute

// Issuer mints the platform's own short-lived access tokens (login and
// refresh responses). Tokens carry the namespaced custom claims so the
// verification path treats them exactly like provider-issued ones.
type Issuer struct {
	key       *rsa.PrivateKey
	keyID     string
	issuer    string
	audience  string
	namespace string
	accessTTL time.Duration
	now       func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer.
func NewIssuer(key *rsa.PrivateKey, keyID, issuer, audience, namespace string, opts ...IssuerOption) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("token: signing key is required")
	}
	keyID = strings.TrimSpace(keyID)
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if keyID == "" || issuer == "" || audience == "" {
		return nil, errors.New("token: key id, issuer and audience are required")
	}
	if namespace == "" {
		namespace = DefaultClaimNamespace
	}
	if !strings.HasSuffix(namespace, "/") {
		namespace += "/"
	}
	i := &Issuer{
		key:       key,
		keyID:     keyID,
		issuer:    issuer,
		audience:  audience,
		namespace: namespace,
		accessTTL: defaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// DefaultClaimNamespace mirrors the claims package default without importing
// it (claims depends on nothing in this package and vice versa).
const DefaultClaimNamespace = "https://marketedge.app/"

// AccessParams describe the principal an access token is minted for.
type AccessParams struct {
	Subject     string
	TenantID    string
	Role        rbac.Role
	Permissions []string
}

// AccessToken signs a new RS256 access token and returns it with its expiry.
func (i *Issuer) AccessToken(p AccessParams) (string, time.Time, error) {
	if strings.TrimSpace(p.Subject) == "" || strings.TrimSpace(p.TenantID) == "" {
		return "", time.Time{}, errors.New("token: subject and tenant id are required")
	}
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":                       i.issuer,
		"aud":                       i.audience,
		"sub":                       p.Subject,
		"iat":                       now.Unix(),
		"exp":                       exp.Unix(),
		"jti":                       uuid.NewString(),
		i.namespace + "tenant_id":   p.TenantID,
		i.namespace + "role":        string(p.Role),
		i.namespace + "permissions": p.Permissions,
	})
	tok.Header["kid"] = i.keyID

	signed, err := tok.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// KeySource exposes the issuer's public key for in-process verification.
func (i *Issuer) KeySource() KeySource {
	return NewStaticSource(map[string]*rsa.PublicKey{i.keyID: &i.key.PublicKey})
}

// ParseRSAPrivateKey decodes a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func ParseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("token: invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("token: unsupported private key type")
	default:
		return nil, fmt.Errorf("token: unsupported private key type %s", block.Type)
	}
}

// GenerateDevKey creates an ephemeral signing key for development mode.
func GenerateDevKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}
