package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zebra-devops/marketedge-core/internal/refresh"
)

// RefreshStore persists refresh-token families. The rotation
// compare-and-swap lives in SQL so that concurrent rotations across
// processes pick exactly one winner.
type RefreshStore struct {
	store *Store
}

var _ refresh.Store = (*RefreshStore)(nil)

// NewRefreshStore constructs a RefreshStore over the store.
func NewRefreshStore(store *Store) *RefreshStore { return &RefreshStore{store: store} }

func (s *RefreshStore) CreateFamily(ctx context.Context, fam refresh.Family, first refresh.Member) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into refresh_families(id, principal_id, organisation_id, status, created_at)
		values ($1,$2,$3,$4,$5)
	`, fam.ID, fam.PrincipalID, fam.TenantID, fam.Status, fam.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens(id, family_id, secret_hash, status, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6)
	`, first.ID, fam.ID, first.SecretHash, first.Status, first.CreatedAt, first.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *RefreshStore) FindMember(ctx context.Context, memberID string) (refresh.Member, refresh.Family, error) {
	var m refresh.Member
	var fam refresh.Family
	var rotatedAt, revokedAt sql.NullTime
	err := s.store.db.QueryRowContext(ctx, `
		select t.id, t.family_id, t.secret_hash, t.status, t.created_at, t.rotated_at, t.expires_at,
		       f.id, f.principal_id, f.organisation_id, f.status, f.created_at, f.revoked_at
		from refresh_tokens t
		join refresh_families f on f.id = t.family_id
		where t.id=$1
	`, memberID).Scan(
		&m.ID, &m.FamilyID, &m.SecretHash, &m.Status, &m.CreatedAt, &rotatedAt, &m.ExpiresAt,
		&fam.ID, &fam.PrincipalID, &fam.TenantID, &fam.Status, &fam.CreatedAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return refresh.Member{}, refresh.Family{}, refresh.ErrInvalidRefreshToken
	}
	if err != nil {
		return refresh.Member{}, refresh.Family{}, err
	}
	if rotatedAt.Valid {
		m.RotatedAt = rotatedAt.Time
	}
	if revokedAt.Valid {
		fam.RevokedAt = revokedAt.Time
	}
	return m, fam, nil
}

func (s *RefreshStore) Rotate(ctx context.Context, memberID string, next refresh.Member) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The status flip is the compare-and-swap: a concurrent rotation of the
	// same member updates zero rows here and loses.
	res, err := tx.ExecContext(ctx, `
		update refresh_tokens set status='rotated', rotated_at=$2
		where id=$1 and status='active'
	`, memberID, next.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return refresh.ErrRotateConflict
	}

	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens(id, family_id, secret_hash, status, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6)
	`, next.ID, next.FamilyID, next.SecretHash, next.Status, next.CreatedAt, next.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *RefreshStore) RevokeFamily(ctx context.Context, familyID string) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update refresh_families set status='revoked', revoked_at=now()
		where id=$1 and status <> 'revoked'
	`, familyID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update refresh_tokens set status='revoked'
		where family_id=$1 and status='active'
	`, familyID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *RefreshStore) RevokePrincipal(ctx context.Context, principalID string) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update refresh_families set status='revoked', revoked_at=now()
		where principal_id=$1 and status <> 'revoked'
	`, principalID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update refresh_tokens set status='revoked'
		where status='active' and family_id in (
			select id from refresh_families where principal_id=$1
		)
	`, principalID); err != nil {
		return err
	}
	return tx.Commit()
}
