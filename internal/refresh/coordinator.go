package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zebra-devops/marketedge-core/internal/ids"
	"github.com/zebra-devops/marketedge-core/internal/tenant"
)

// DefaultTTL is the refresh token lifetime used unless overridden.
const DefaultTTL = 30 * 24 * time.Hour

// DefaultReuseGrace is how long a just-rotated token may be presented again
// and still receive the successor instead of tripping reuse detection. This
// absorbs client retries and in-process races that serialize past the
// single-flight group. The window is a deliberate trade-off: a thief who
// replays the full stolen token inside it receives the successor instead of
// triggering family revocation, so it is kept short.
const DefaultReuseGrace = 3 * time.Second

// Result is a successful rotation: the next wire token plus the principal it
// belongs to, so the caller can mint a fresh access token.
type Result struct {
	Token     string
	Principal tenant.Principal
	TenantID  string
	FamilyID  string
	ExpiresAt time.Time
}

// Coordinator issues and rotates refresh tokens. Concurrent refreshes of the
// same token within one process are collapsed into a single rotation whose
// result every caller shares; across processes the store's compare-and-swap
// picks one winner and the rest receive ErrInFlight.
type Coordinator struct {
	store   Store
	dir     tenant.Directory
	ttl     time.Duration
	grace   time.Duration
	now     func() time.Time
	onReuse func(ctx context.Context, fam Family, memberID string)
	group   singleflight.Group

	recentMu sync.Mutex
	recent   map[string]recentRotation // retired member id -> its successor
}

type recentRotation struct {
	result Result
	until  time.Time
}

// Option adjusts coordinator behavior.
type Option func(*Coordinator)

// WithTTL overrides the refresh token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Tests use this.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithReuseGrace overrides the reuse grace window. Zero disables it, making
// every replay of a retired token revoke the family immediately. Larger
// windows absorb slower client retries but extend how long a stolen token
// can still be exchanged for its successor.
func WithReuseGrace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// WithReuseHook registers a callback fired after reuse detection revokes a
// family. The hook runs best-effort; its failure does not undo the
// revocation.
func WithReuseHook(hook func(ctx context.Context, fam Family, memberID string)) Option {
	return func(c *Coordinator) {
		c.onReuse = hook
	}
}

// NewCoordinator constructs a Coordinator over the given store and
// directory.
func NewCoordinator(store Store, dir tenant.Directory, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("refresh: store is required")
	}
	if dir == nil {
		return nil, errors.New("refresh: directory is required")
	}
	c := &Coordinator{
		store:  store,
		dir:    dir,
		ttl:    DefaultTTL,
		grace:  DefaultReuseGrace,
		now:    func() time.Time { return time.Now().UTC() },
		recent: make(map[string]recentRotation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue starts a new token family for the principal, typically at login, and
// returns the wire token of its first member.
func (c *Coordinator) Issue(ctx context.Context, p tenant.Principal) (string, error) {
	if p.ID == "" || p.TenantID == "" {
		return "", errors.New("refresh: principal id and tenant id are required")
	}
	now := c.now()
	secret, hash, err := newSecret()
	if err != nil {
		return "", err
	}
	fam := Family{
		ID:          ids.New(),
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Status:      StatusActive,
		CreatedAt:   now,
	}
	first := Member{
		ID:         ids.New(),
		FamilyID:   fam.ID,
		SecretHash: hash,
		Status:     StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	}
	if err := c.store.CreateFamily(ctx, fam, first); err != nil {
		return "", err
	}
	return encodeToken(first.ID, secret), nil
}

// Refresh validates the presented token and rotates its family forward,
// returning the next token. Reuse of a retired token revokes the entire
// family and returns ErrReuseDetected.
func (c *Coordinator) Refresh(ctx context.Context, raw string) (Result, error) {
	memberID, secret, err := decodeToken(raw)
	if err != nil {
		return Result{}, ErrInvalidRefreshToken
	}
	// The flight key binds the presented secret, not just the member id: a
	// caller who guessed the id but not the secret must never share a
	// legitimate rotation's result.
	v, err, _ := c.group.Do(memberID+"."+hashSecret(secret), func() (any, error) {
		return c.rotate(ctx, memberID, secret)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Coordinator) rotate(ctx context.Context, memberID, secret string) (Result, error) {
	m, fam, err := c.store.FindMember(ctx, memberID)
	if err != nil {
		return Result{}, ErrInvalidRefreshToken
	}
	if !hashMatches(m.SecretHash, secret) {
		return Result{}, ErrInvalidRefreshToken
	}
	if fam.Status == StatusRevoked {
		return Result{}, ErrInvalidRefreshToken
	}
	if m.Status != StatusActive {
		if res, ok := c.recentResult(memberID); ok {
			return res, nil
		}
		// A retired member came back outside the grace window: someone
		// replayed a stolen or stale token. Kill the family.
		if err := c.store.RevokeFamily(ctx, fam.ID); err != nil {
			return Result{}, err
		}
		if c.onReuse != nil {
			c.onReuse(ctx, fam, memberID)
		}
		return Result{}, ErrReuseDetected
	}
	now := c.now()
	if !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt) {
		return Result{}, ErrInvalidRefreshToken
	}

	p, err := c.dir.Principal(ctx, fam.PrincipalID)
	if err != nil {
		return Result{}, ErrInvalidRefreshToken
	}
	if !p.Active || p.TenantID != fam.TenantID {
		if err := c.store.RevokeFamily(ctx, fam.ID); err != nil {
			return Result{}, err
		}
		return Result{}, ErrInvalidRefreshToken
	}

	nextSecret, nextHash, err := newSecret()
	if err != nil {
		return Result{}, err
	}
	next := Member{
		ID:         ids.New(),
		FamilyID:   fam.ID,
		SecretHash: nextHash,
		Status:     StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	}
	if err := c.store.Rotate(ctx, memberID, next); err != nil {
		if errors.Is(err, ErrRotateConflict) {
			return Result{}, ErrInFlight
		}
		return Result{}, err
	}
	res := Result{
		Token:     encodeToken(next.ID, nextSecret),
		Principal: p,
		TenantID:  fam.TenantID,
		FamilyID:  fam.ID,
		ExpiresAt: next.ExpiresAt,
	}
	c.rememberRotation(memberID, res)
	return res, nil
}

func (c *Coordinator) rememberRotation(memberID string, res Result) {
	if c.grace <= 0 {
		return
	}
	now := c.now()
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	for id, r := range c.recent {
		if now.After(r.until) {
			delete(c.recent, id)
		}
	}
	c.recent[memberID] = recentRotation{result: res, until: now.Add(c.grace)}
}

func (c *Coordinator) recentResult(memberID string) (Result, bool) {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	r, ok := c.recent[memberID]
	if !ok || c.now().After(r.until) {
		return Result{}, false
	}
	return r.result, true
}

// Revoke retires the family of the presented token, typically at logout. An
// unrecognized token is not an error: logout is idempotent.
func (c *Coordinator) Revoke(ctx context.Context, raw string) error {
	memberID, secret, err := decodeToken(raw)
	if err != nil {
		return nil
	}
	m, fam, err := c.store.FindMember(ctx, memberID)
	if err != nil {
		return nil
	}
	if !hashMatches(m.SecretHash, secret) {
		return nil
	}
	c.forgetFamily(fam.ID)
	return c.store.RevokeFamily(ctx, fam.ID)
}

func (c *Coordinator) forgetFamily(familyID string) {
	c.recentMu.Lock()
	defer c.recentMu.Unlock()
	for id, r := range c.recent {
		if r.result.FamilyID == familyID {
			delete(c.recent, id)
		}
	}
}

// RevokePrincipal retires every family belonging to the principal, for
// deactivation and forced sign-out.
func (c *Coordinator) RevokePrincipal(ctx context.Context, principalID string) error {
	return c.store.RevokePrincipal(ctx, principalID)
}

// Wire tokens are "<member-id>.<base64url-secret>". Only a sha256 hash of
// the secret is stored.

func newSecret() (secret, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	return secret, hashSecret(secret), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func hashMatches(storedHash, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashSecret(secret))) == 1
}

func encodeToken(memberID, secret string) string {
	return memberID + "." + secret
}

func decodeToken(raw string) (memberID, secret string, err error) {
	raw = strings.TrimSpace(raw)
	memberID, secret, ok := strings.Cut(raw, ".")
	if !ok || memberID == "" || secret == "" {
		return "", "", ErrInvalidRefreshToken
	}
	return memberID, secret, nil
}
