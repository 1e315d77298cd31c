package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const clockSkew = 5 * time.Second

// Verifier validates bearer tokens against the identity provider's signing
// keys and the configured issuer/audience. All outcomes are typed; any error
// means the token establishes no identity at all.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the time source (useful for tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewVerifier constructs a Verifier.
func NewVerifier(keys KeySource, issuer, audience string, opts ...VerifierOption) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("token: key source is required")
	}
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, errors.New("token: issuer and audience are required")
	}
	v := &Verifier{keys: keys, issuer: issuer, audience: audience, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks signature and standard claims and returns the raw payload.
func (v *Verifier) Verify(ctx context.Context, raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.now),
	)

	payload := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(raw, payload, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing key id", ErrSignatureInvalid)
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, ErrSignatureInvalid
	}

	// jti is mandatory so revocation and replay analysis can identify the
	// exact token.
	if jti, _ := payload["jti"].(string); strings.TrimSpace(jti) == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrMalformedToken)
	}
	return payload, nil
}

// classify maps jwt/v5 failures onto the package taxonomy. Unrecognized
// failures collapse into ErrMalformedToken rather than leaking detail.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrAudienceMismatch
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrExpired
	default:
		return ErrMalformedToken
	}
}
