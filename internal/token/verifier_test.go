package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
)

const (
	testIssuer   = "https://id.test.marketedge.app/"
	testAudience = "marketedge-api"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := GenerateDevKey()
	if err != nil {
		t.Fatalf("GenerateDevKey: %v", err)
	}
	return key
}

func newTestVerifier(t *testing.T, key *rsa.PrivateKey, kid string) *Verifier {
	t.Helper()
	source := NewStaticSource(map[string]*rsa.PublicKey{kid: &key.PublicKey})
	v, err := NewVerifier(source, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now().UTC()
	payload := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"jti": uuid.NewString(),
	}
	if mutate != nil {
		mutate(payload)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, payload)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	key := testKey(t)
	v := newTestVerifier(t, key, "kid-1")

	raw := signToken(t, key, "kid-1", func(c jwt.MapClaims) {
		c["tenant_id"] = "T1"
	})
	payload, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if payload["sub"] != "user-1" || payload["tenant_id"] != "T1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestVerifyFailuresAreTyped(t *testing.T) {
	key := testKey(t)
	v := newTestVerifier(t, key, "kid-1")
	ctx := context.Background()

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"garbage", "not-a-token", ErrMalformedToken},
		{"empty", "", ErrMalformedToken},
		{
			"expired",
			signToken(t, key, "kid-1", func(c jwt.MapClaims) {
				c["iat"] = time.Now().Add(-2 * time.Hour).Unix()
				c["exp"] = time.Now().Add(-1 * time.Hour).Unix()
			}),
			ErrExpired,
		},
		{
			"wrong issuer",
			signToken(t, key, "kid-1", func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com/" }),
			ErrIssuerMismatch,
		},
		{
			"wrong audience",
			signToken(t, key, "kid-1", func(c jwt.MapClaims) { c["aud"] = "another-api" }),
			ErrAudienceMismatch,
		},
		{
			"unknown kid",
			signToken(t, key, "kid-2", nil),
			ErrSignatureInvalid,
		},
		{
			"missing jti",
			signToken(t, key, "kid-1", func(c jwt.MapClaims) { delete(c, "jti") }),
			ErrMalformedToken,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(ctx, tc.raw); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	key := testKey(t)
	other := testKey(t)
	v := newTestVerifier(t, key, "kid-1")

	// Signed by a different key but claiming the known kid.
	raw := signToken(t, other, "kid-1", nil)
	if _, err := v.Verify(context.Background(), raw); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	key := testKey(t)
	v := newTestVerifier(t, key, "kid-1")

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss": testIssuer, "aud": testAudience, "sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(), "jti": "x",
	})
	tok.Header["kid"] = "kid-1"
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := v.Verify(context.Background(), raw); err == nil {
		t.Fatalf("alg=none token must not verify")
	}
}

func TestIssuerRoundTrip(t *testing.T) {
	key := testKey(t)
	issuer, err := NewIssuer(key, "kid-1", testIssuer, testAudience, "", WithAccessTTL(5*time.Minute))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	raw, exp, err := issuer.AccessToken(AccessParams{
		Subject:     "user-9",
		TenantID:    "T7",
		Role:        rbac.RoleAdmin,
		Permissions: []string{"org.read", "org.write"},
	})
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	v, err := NewVerifier(issuer.KeySource(), testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	payload, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if payload[DefaultClaimNamespace+"tenant_id"] != "T7" {
		t.Fatalf("tenant claim missing: %v", payload)
	}
	if payload[DefaultClaimNamespace+"role"] != "admin" {
		t.Fatalf("role claim missing: %v", payload)
	}
}
