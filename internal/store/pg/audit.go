package pg

import (
	"context"
	"encoding/json"

	"github.com/zebra-devops/marketedge-core/internal/audit"
)

// AuditStore appends audit entries to the audit_log table. The table is
// insert-only; no update or delete path exists in this codebase.
type AuditStore struct {
	store *Store
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore constructs an AuditStore over the store.
func NewAuditStore(store *Store) *AuditStore { return &AuditStore{store: store} }

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	var detail []byte
	if len(e.Detail) > 0 {
		var err error
		detail, err = json.Marshal(e.Detail)
		if err != nil {
			return err
		}
	}
	_, err := s.store.db.ExecContext(ctx, `
		insert into audit_log(id, ts, request_id, principal_id, organisation_id, target_organisation_id, action, outcome, detail)
		values ($1,$2,nullif($3,''),nullif($4,''),nullif($5,''),nullif($6,''),$7,$8,$9)
	`, e.ID, e.Timestamp, e.RequestID, e.PrincipalID, e.TenantID, e.TargetTenantID, e.Action, e.Outcome, detail)
	return err
}
