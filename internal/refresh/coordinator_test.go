package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zebra-devops/marketedge-core/internal/rbac"
	"github.com/zebra-devops/marketedge-core/internal/tenant"
)

func testDirectory(t *testing.T) (*tenant.MemoryDirectory, tenant.Principal) {
	t.Helper()
	dir := tenant.NewMemoryDirectory()
	dir.AddOrganization(tenant.Organization{ID: "t1", Name: "Acme"})
	p := tenant.Principal{ID: "u1", TenantID: "t1", Email: "a@acme.test", Role: rbac.RoleAnalyst, Active: true}
	dir.AddPrincipal(p, "")
	return dir, p
}

func TestIssueAndRefresh(t *testing.T) {
	dir, p := testDirectory(t)
	c, err := NewCoordinator(NewMemoryStore(), dir)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.Contains(tok, ".") {
		t.Fatalf("unexpected wire token %q", tok)
	}

	res, err := c.Refresh(ctx, tok)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.Token == tok {
		t.Fatalf("refresh must rotate the token")
	}
	if res.Principal.ID != "u1" || res.TenantID != "t1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The new token must itself be refreshable.
	res2, err := c.Refresh(ctx, res.Token)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if res2.Token == res.Token {
		t.Fatalf("second refresh must rotate again")
	}
}

func TestRetryWithinGraceSharesResult(t *testing.T) {
	dir, p := testDirectory(t)
	c, err := NewCoordinator(NewMemoryStore(), dir)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	first, err := c.Refresh(ctx, tok)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	// A client retry of the same token inside the grace window receives the
	// same successor instead of tripping reuse detection.
	retry, err := c.Refresh(ctx, tok)
	if err != nil {
		t.Fatalf("retry within grace: %v", err)
	}
	if retry.Token != first.Token {
		t.Fatalf("retry returned a different token")
	}
}

func TestReuseRevokesFamily(t *testing.T) {
	dir, p := testDirectory(t)
	var reused []string
	c, err := NewCoordinator(NewMemoryStore(), dir,
		WithReuseGrace(0),
		WithReuseHook(func(_ context.Context, fam Family, memberID string) {
			reused = append(reused, fam.ID+"/"+memberID)
		}),
	)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	res, err := c.Refresh(ctx, tok)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the retired token revokes the whole family.
	if _, err := c.Refresh(ctx, tok); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
	if len(reused) != 1 {
		t.Fatalf("reuse hook fired %d times", len(reused))
	}

	// The legitimately issued successor is dead too.
	if _, err := c.Refresh(ctx, res.Token); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for revoked family, got %v", err)
	}
}

func TestConcurrentRefreshDedup(t *testing.T) {
	dir, p := testDirectory(t)
	c, err := NewCoordinator(NewMemoryStore(), dir)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]Result, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(ctx, tok)
		}(i)
	}
	wg.Wait()

	tokens := make(map[string]struct{})
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		tokens[results[i].Token] = struct{}{}
	}
	if len(tokens) != 1 {
		t.Fatalf("concurrent refreshes produced %d distinct tokens, want 1", len(tokens))
	}
}

// gateStore blocks the first FindMember call until released, holding a
// rotation in flight while the test issues competing refreshes.
type gateStore struct {
	Store
	first   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *gateStore) FindMember(ctx context.Context, memberID string) (Member, Family, error) {
	if s.first.CompareAndSwap(false, true) {
		close(s.entered)
		<-s.release
	}
	return s.Store.FindMember(ctx, memberID)
}

func TestConcurrentWrongSecretNotHandedResult(t *testing.T) {
	dir, p := testDirectory(t)
	gate := &gateStore{
		Store:   NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c, err := NewCoordinator(gate, dir)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	memberID, _, _ := strings.Cut(tok, ".")

	legit := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, tok)
		legit <- err
	}()
	<-gate.entered

	// While the real rotation is in flight, a caller holding the member id
	// but not the secret must be rejected, not handed the rotation result.
	if _, err := c.Refresh(ctx, memberID+".completely-wrong-secret"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("wrong-secret refresh: expected ErrInvalidRefreshToken, got %v", err)
	}

	close(gate.release)
	if err := <-legit; err != nil {
		t.Fatalf("legitimate refresh: %v", err)
	}
}

func TestInvalidTokens(t *testing.T) {
	dir, p := testDirectory(t)
	c, err := NewCoordinator(NewMemoryStore(), dir)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	memberID, _, _ := strings.Cut(tok, ".")

	for _, raw := range []string{
		"",
		"garbage",
		"no-dot-here",
		memberID + ".wrong-secret",
		"unknown-member.secret",
	} {
		if _, err := c.Refresh(ctx, raw); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("Refresh(%q): expected ErrInvalidRefreshToken, got %v", raw, err)
		}
	}

	// A tampered secret must not have revoked the real token.
	if _, err := c.Refresh(ctx, tok); err != nil {
		t.Fatalf("valid token rejected after probe attempts: %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	dir, p := testDirectory(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c, err := NewCoordinator(NewMemoryStore(), dir, WithTTL(time.Hour), WithClock(clock))
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := c.Refresh(ctx, tok); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for expired token, got %v", err)
	}
}

func TestInactivePrincipal(t *testing.T) {
	dir, p := testDirectory(t)
	c, err := NewCoordinator(NewMemoryStore(), dir)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p.Active = false
	dir.AddPrincipal(p, "")

	if _, err := c.Refresh(ctx, tok); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for inactive principal, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	dir, p := testDirectory(t)
	c, err := NewCoordinator(NewMemoryStore(), dir)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := c.Revoke(ctx, tok); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := c.Refresh(ctx, tok); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken after revoke, got %v", err)
	}

	// Revoking junk or an already-revoked token is a no-op.
	if err := c.Revoke(ctx, "garbage"); err != nil {
		t.Fatalf("Revoke(garbage): %v", err)
	}
	if err := c.Revoke(ctx, tok); err != nil {
		t.Fatalf("double Revoke: %v", err)
	}
}

// conflictStore forces the rotation compare-and-swap to lose, simulating a
// concurrent rotation in another process.
type conflictStore struct {
	Store
}

func (s conflictStore) Rotate(context.Context, string, Member) error {
	return ErrRotateConflict
}

func TestCrossProcessConflict(t *testing.T) {
	dir, p := testDirectory(t)
	mem := NewMemoryStore()
	c, err := NewCoordinator(conflictStore{mem}, dir)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	ctx := context.Background()

	tok, err := c.Issue(ctx, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Refresh(ctx, tok); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
}
