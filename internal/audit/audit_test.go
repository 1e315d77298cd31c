package audit

import (
	"context"
	"errors"
	"testing"
)

func TestEmitStampsEntry(t *testing.T) {
	store := NewMemoryStore()
	em, err := NewEmitter(store)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-1")
	em.Emit(ctx, Entry{
		PrincipalID: "u1",
		TenantID:    "t1",
		Action:      ActionLogin,
	})

	got := store.Entries()
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	e := got[0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("entry not stamped: %+v", e)
	}
	if e.RequestID != "req-1" {
		t.Fatalf("request id not propagated: %+v", e)
	}
	if e.Outcome != OutcomeSuccess {
		t.Fatalf("default outcome = %q", e.Outcome)
	}
}

func TestEmitSwallowsStoreFailure(t *testing.T) {
	store := NewMemoryStore()
	store.FailWith(errors.New("disk full"))
	em, err := NewEmitter(store)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	// Must not panic or block; the caller's operation proceeds.
	em.Emit(context.Background(), Entry{Action: ActionRefresh})

	if n := len(store.Entries()); n != 0 {
		t.Fatalf("got %d entries, want 0", n)
	}
}

func TestEmitStrictFailsClosed(t *testing.T) {
	store := NewMemoryStore()
	em, err := NewEmitter(store)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	entry := Entry{
		PrincipalID:    "u1",
		TenantID:       "t1",
		TargetTenantID: "t2",
		Action:         ActionCrossTenant,
	}
	if err := em.EmitStrict(context.Background(), entry); err != nil {
		t.Fatalf("EmitStrict: %v", err)
	}

	store.FailWith(errors.New("db down"))
	if err := em.EmitStrict(context.Background(), entry); !errors.Is(err, ErrCrossTenantAuditFailure) {
		t.Fatalf("expected ErrCrossTenantAuditFailure, got %v", err)
	}
}

func TestRequestIDContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context returned %q", got)
	}
	ctx := WithRequestID(context.Background(), "abc")
	if got := RequestIDFromContext(ctx); got != "abc" {
		t.Fatalf("got %q, want abc", got)
	}
}
