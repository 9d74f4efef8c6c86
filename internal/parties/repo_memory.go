package parties

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepo struct {
	mu      sync.Mutex
	parties map[string]Party
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{parties: map[string]Party{}} }

func (r *MemoryRepo) Put(p Party) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parties[p.ID] = p
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.parties[id]
	if !ok {
		return Party{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) FindOpenByPhone(ctx context.Context, phone string) ([]Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Party
	for _, p := range r.parties {
		if p.CallerPhone == phone && !p.Closed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) Create(ctx context.Context, p Party) (Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.parties[p.ID] = p
	return p, nil
}

func (r *MemoryRepo) AssignOwner(ctx context.Context, partyID, userID, teamID string) (Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.parties[partyID]
	if !ok {
		return Party{}, ErrNotFound
	}
	if p.OwnerUserID == "" {
		p.OwnerUserID = userID
		if p.OwnerTeamID == "" {
			p.OwnerTeamID = teamID
		}
		r.parties[partyID] = p
	}
	return p, nil
}
