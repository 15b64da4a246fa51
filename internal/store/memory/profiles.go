package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/buildledger/buildledger/internal/profile"
	"github.com/buildledger/buildledger/internal/shared"
)

// ProfileRepository implements profile.Repository. Profiles sit outside the transactional dataset
// and have their own lock, so renderers may read them while a document transaction is open.
type ProfileRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]profile.Profile
}

var _ profile.Repository = (*ProfileRepository)(nil)

func (r *ProfileRepository) Get(ctx context.Context, ownerID uuid.UUID) (*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[ownerID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

// Upsert keeps the original CreatedAt when the owner already has a profile.
func (r *ProfileRepository) Upsert(ctx context.Context, p profile.Profile) (*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[p.OwnerID]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	r.rows[p.OwnerID] = p
	return &p, nil
}
