package token

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

const defaultJWKSRefreshInterval = 15 * time.Minute

// KeySource resolves a verification key by its key id.
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

// JWKSSource serves signing keys from the identity provider's published JWKS
// endpoint. The set is cached with a bounded refresh interval; an unknown kid
// triggers a single re-fetch shared by all concurrent requests for that kid.
type JWKSSource struct {
	url   string
	cache *jwk.Cache
	group singleflight.Group
}

// NewJWKSSource registers the JWKS URL with a refreshing cache. The provided
// context bounds the lifetime of the background refresher.
func NewJWKSSource(ctx context.Context, url string, refreshInterval time.Duration) (*JWKSSource, error) {
	if refreshInterval <= 0 {
		refreshInterval = defaultJWKSRefreshInterval
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	return &JWKSSource{url: url, cache: cache}, nil
}

// Key returns the raw public key for kid, re-fetching the set once when the
// cached copy does not contain it (key rotation on the provider side).
func (s *JWKSSource) Key(ctx context.Context, kid string) (any, error) {
	set, err := s.cache.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		set, err = s.refetch(ctx, kid)
		if err != nil {
			return nil, err
		}
		key, ok = set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("%w: unknown key id %q", ErrSignatureInvalid, kid)
		}
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("materialize key %q: %w", kid, err)
	}
	return raw, nil
}

// refetch de-duplicates concurrent fetches for the same unknown kid.
func (s *JWKSSource) refetch(ctx context.Context, kid string) (jwk.Set, error) {
	v, err, _ := s.group.Do(kid, func() (any, error) {
		return jwk.Fetch(ctx, s.url)
	})
	if err != nil {
		return nil, fmt.Errorf("refetch jwks: %w", err)
	}
	return v.(jwk.Set), nil
}

// StaticSource serves keys from a fixed in-memory map. Used for verifying
// internally minted tokens and in tests.
type StaticSource struct {
	keys map[string]*rsa.PublicKey
}

// NewStaticSource builds a source over the given kid to key mapping.
func NewStaticSource(keys map[string]*rsa.PublicKey) *StaticSource {
	copied := make(map[string]*rsa.PublicKey, len(keys))
	for kid, key := range keys {
		copied[kid] = key
	}
	return &StaticSource{keys: copied}
}

func (s *StaticSource) Key(_ context.Context, kid string) (any, error) {
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %q", ErrSignatureInvalid, kid)
	}
	return key, nil
}
