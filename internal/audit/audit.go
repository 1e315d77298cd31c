// Package audit records security-relevant events. Writes are best-effort:
// an audit failure never blocks the business operation it describes, with
// one exception: cross-tenant override access must not proceed unless its
// audit entry is durably recorded.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zebra-devops/marketedge-core/internal/ids"
	"github.com/zebra-devops/marketedge-core/internal/obs"
)

// Actions recorded by the authentication core.
const (
	ActionLogin            = "auth.login"
	ActionLoginFailed      = "auth.login_failed"
	ActionRefresh          = "auth.refresh"
	ActionRefreshReuse     = "auth.refresh_reuse"
	ActionLogout           = "auth.logout"
	ActionAccessDenied     = "auth.access_denied"
	ActionCrossTenant      = "auth.cross_tenant_access"
	ActionPrincipalRevoked = "auth.principal_revoked"
)

// Entry outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

// ErrCrossTenantAuditFailure indicates a cross-tenant audit entry could not
// be recorded. The guarded operation must not proceed.
var ErrCrossTenantAuditFailure = errors.New("audit: cross-tenant audit write failed")

// Entry is one immutable audit record.
type Entry struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"ts"`
	RequestID      string         `json:"request_id,omitempty"`
	PrincipalID    string         `json:"principal_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	TargetTenantID string         `json:"target_tenant_id,omitempty"`
	Action         string         `json:"action"`
	Outcome        string         `json:"outcome"`
	Detail         map[string]any `json:"detail,omitempty"`
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
}

// Emitter stamps and writes audit entries.
type Emitter struct {
	store Store
	now   func() time.Time
}

// NewEmitter constructs an Emitter over the store.
func NewEmitter(store Store) (*Emitter, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	return &Emitter{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (e *Emitter) stamp(ctx context.Context, entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.now()
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeSuccess
	}
	return entry
}

// Emit writes the entry best-effort. Failures are logged and counted but
// never propagated; the caller's operation proceeds regardless.
func (e *Emitter) Emit(ctx context.Context, entry Entry) {
	entry = e.stamp(ctx, entry)
	if err := e.store.Append(ctx, entry); err != nil {
		obs.IncAuditFailure()
		obs.LogRequest(map[string]any{
			"ts":     e.now().Format(time.RFC3339Nano),
			"level":  "error",
			"msg":    "audit write failed",
			"action": entry.Action,
			"error":  err.Error(),
		})
	}
}

// EmitStrict writes the entry fail-closed: if the write does not succeed the
// caller must abort the guarded operation. Used for cross-tenant override
// access.
func (e *Emitter) EmitStrict(ctx context.Context, entry Entry) error {
	entry = e.stamp(ctx, entry)
	if err := e.store.Append(ctx, entry); err != nil {
		obs.IncAuditFailure()
		return fmt.Errorf("%w: %v", ErrCrossTenantAuditFailure, err)
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID attaches a request id for correlation across audit entries
// and log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id, or empty.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// LogStore writes audit entries to the structured log. Development mode uses
// it when no database is configured.
type LogStore struct{}

func (LogStore) Append(_ context.Context, e Entry) error {
	obs.LogRequest(map[string]any{
		"ts":               e.Timestamp.Format(time.RFC3339Nano),
		"level":            "info",
		"msg":              "audit",
		"audit_id":         e.ID,
		"request_id":       e.RequestID,
		"principal_id":     e.PrincipalID,
		"tenant_id":        e.TenantID,
		"target_tenant_id": e.TargetTenantID,
		"action":           e.Action,
		"outcome":          e.Outcome,
	})
	return nil
}

// MemoryStore collects entries in memory for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	fail    error
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes subsequent appends return err. Pass nil to heal.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

var (
	_ Store = LogStore{}
	_ Store = (*MemoryStore)(nil)
)
