// Package refresh implements rotating refresh-token families with reuse
// detection. Every successful refresh retires the presented token and issues
// a new member of the same family; presenting a retired member revokes the
// whole family.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Member and family lifecycle states.
const (
	StatusActive  = "active"
	StatusRotated = "rotated"
	StatusRevoked = "revoked"
)

var (
	// ErrInvalidRefreshToken covers malformed, unknown, expired and revoked
	// tokens. Callers must not be able to distinguish these cases.
	ErrInvalidRefreshToken = errors.New("refresh: invalid refresh token")

	// ErrReuseDetected indicates a retired family member was presented
	// again. The store revokes the entire family before this is returned.
	ErrReuseDetected = errors.New("refresh: token reuse detected")

	// ErrInFlight indicates another process rotated the same member
	// concurrently. The caller should retry with the winner's token or
	// re-authenticate.
	ErrInFlight = errors.New("refresh: rotation already in flight")

	// ErrRotateConflict is returned by stores when the compare-and-swap on
	// the member's status loses to a concurrent rotation.
	ErrRotateConflict = errors.New("refresh: rotate conflict")
)

// Family groups every token descended from one login. Revocation applies to
// the family as a unit.
type Family struct {
	ID          string
	PrincipalID string
	TenantID    string
	Status      string
	CreatedAt   time.Time
	RevokedAt   time.Time
}

// Member is one generation of a family's token. Only the hash of the secret
// is ever stored.
type Member struct {
	ID         string
	FamilyID   string
	SecretHash string
	Status     string
	CreatedAt  time.Time
	RotatedAt  time.Time
	ExpiresAt  time.Time
}

// Store persists families and members. Rotate must be atomic: the status
// flip from active to rotated and the insertion of the next member either
// both happen or neither does, and a concurrent rotation of the same member
// must fail with ErrRotateConflict.
type Store interface {
	CreateFamily(ctx context.Context, fam Family, first Member) error
	FindMember(ctx context.Context, memberID string) (Member, Family, error)
	Rotate(ctx context.Context, memberID string, next Member) error
	RevokeFamily(ctx context.Context, familyID string) error
	RevokePrincipal(ctx context.Context, principalID string) error
}

// MemoryStore is an in-memory Store for development mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	families map[string]Family
	members  map[string]Member
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		families: make(map[string]Family),
		members:  make(map[string]Member),
	}
}

func (s *MemoryStore) CreateFamily(_ context.Context, fam Family, first Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.families[fam.ID]; ok {
		return errors.New("refresh: family already exists")
	}
	s.families[fam.ID] = fam
	s.members[first.ID] = first
	return nil
}

func (s *MemoryStore) FindMember(_ context.Context, memberID string) (Member, Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return Member{}, Family{}, ErrInvalidRefreshToken
	}
	fam, ok := s.families[m.FamilyID]
	if !ok {
		return Member{}, Family{}, ErrInvalidRefreshToken
	}
	return m, fam, nil
}

func (s *MemoryStore) Rotate(_ context.Context, memberID string, next Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || m.Status != StatusActive {
		return ErrRotateConflict
	}
	m.Status = StatusRotated
	m.RotatedAt = next.CreatedAt
	s.members[memberID] = m
	s.members[next.ID] = next
	return nil
}

func (s *MemoryStore) RevokeFamily(_ context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fam, ok := s.families[familyID]
	if !ok {
		return nil
	}
	if fam.Status != StatusRevoked {
		fam.Status = StatusRevoked
		fam.RevokedAt = time.Now().UTC()
		s.families[familyID] = fam
	}
	for id, m := range s.members {
		if m.FamilyID == familyID && m.Status == StatusActive {
			m.Status = StatusRevoked
			s.members[id] = m
		}
	}
	return nil
}

func (s *MemoryStore) RevokePrincipal(_ context.Context, principalID string) error {
	s.mu.Lock()
	famIDs := make([]string, 0, 4)
	for id, fam := range s.families {
		if fam.PrincipalID == principalID && fam.Status != StatusRevoked {
			famIDs = append(famIDs, id)
		}
	}
	s.mu.Unlock()
	for _, id := range famIDs {
		if err := s.RevokeFamily(context.Background(), id); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
