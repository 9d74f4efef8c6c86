package callqueue

import (
	"context"
	"sort"
	"sync"
)

type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]QueuedCall
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{calls: map[string]QueuedCall{}} }

func clone(q QueuedCall) QueuedCall {
	q.DeclinedBy = append([]string(nil), q.DeclinedBy...)
	legs := make(map[string][]string, len(q.FiredLegs))
	for id, l := range q.FiredLegs {
		legs[id] = append([]string(nil), l...)
	}
	q.FiredLegs = legs
	return q
}

func (r *MemoryRepo) Add(ctx context.Context, q QueuedCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[q.CommID] = clone(q)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, commID string) (QueuedCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok {
		return QueuedCall{}, ErrNotFound
	}
	return clone(q), nil
}

func (r *MemoryRepo) GetByExternalCall(ctx context.Context, externalCallID string) (QueuedCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.sorted() {
		if q.ExternalCallID == externalCallID {
			return clone(q), nil
		}
	}
	return QueuedCall{}, ErrNotFound
}

// sorted must be called with mu held.
func (r *MemoryRepo) sorted() []QueuedCall {
	out := make([]QueuedCall, 0, len(r.calls))
	for _, q := range r.calls {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].CommID < out[j].CommID
	})
	return out
}

func (r *MemoryRepo) ListWaiting(ctx context.Context, teamIDs []string) ([]QueuedCall, error) {
	want := map[string]bool{}
	for _, id := range teamIDs {
		want[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []QueuedCall
	for _, q := range r.sorted() {
		if q.Locked || (len(want) > 0 && !want[q.TeamID]) {
			continue
		}
		out = append(out, clone(q))
	}
	return out, nil
}

func (r *MemoryRepo) ListByTeam(ctx context.Context, teamID string) ([]QueuedCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []QueuedCall
	for _, q := range r.sorted() {
		if q.TeamID == teamID {
			out = append(out, clone(q))
		}
	}
	return out, nil
}

func (r *MemoryRepo) TeamIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, q := range r.calls {
		if !seen[q.TeamID] {
			seen[q.TeamID] = true
			out = append(out, q.TeamID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepo) Remove(ctx context.Context, commID string) (QueuedCall, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok {
		return QueuedCall{}, false, nil
	}
	delete(r.calls, commID)
	return q, true, nil
}

func (r *MemoryRepo) RemoveUnlessLocked(ctx context.Context, commID string) (QueuedCall, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok || q.Locked {
		return clone(q), false, nil
	}
	delete(r.calls, commID)
	return q, true, nil
}

func (r *MemoryRepo) Lock(ctx context.Context, commID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok || q.Locked {
		return false, nil
	}
	q.Locked = true
	r.calls[commID] = q
	return true, nil
}

func (r *MemoryRepo) Unlock(ctx context.Context, commID, declinedBy string) (QueuedCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok {
		return QueuedCall{}, ErrNotFound
	}
	q.Locked = false
	if declinedBy != "" && !q.HasDeclined(declinedBy) {
		q.DeclinedBy = append(q.DeclinedBy, declinedBy)
	}
	r.calls[commID] = q
	return clone(q), nil
}

func (r *MemoryRepo) AddDecliner(ctx context.Context, commID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok {
		return ErrNotFound
	}
	if !q.HasDeclined(agentID) {
		q.DeclinedBy = append(q.DeclinedBy, agentID)
		r.calls[commID] = q
	}
	return nil
}

func (r *MemoryRepo) AddFiredLeg(ctx context.Context, commID, agentID, legID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok {
		return ErrNotFound
	}
	q = clone(q)
	q.FiredLegs[agentID] = append(q.FiredLegs[agentID], legID)
	r.calls[commID] = q
	return nil
}

func (r *MemoryRepo) RemoveFiredLeg(ctx context.Context, commID, legID string) (QueuedCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok {
		return QueuedCall{}, ErrNotFound
	}
	q = clone(q)
	for agentID, legs := range q.FiredLegs {
		kept := legs[:0]
		for _, l := range legs {
			if l != legID {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(q.FiredLegs, agentID)
		} else {
			q.FiredLegs[agentID] = kept
		}
	}
	r.calls[commID] = q
	return clone(q), nil
}

func (r *MemoryRepo) RemoveAgentLegs(ctx context.Context, commID, agentID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.calls[commID]
	if !ok {
		return nil, ErrNotFound
	}
	q = clone(q)
	legs := q.FiredLegs[agentID]
	delete(q.FiredLegs, agentID)
	r.calls[commID] = q
	return legs, nil
}

func (r *MemoryRepo) LegsForAgent(ctx context.Context, agentID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, q := range r.calls {
		out = append(out, q.FiredLegs[agentID]...)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepo) BookedAgentIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, q := range r.calls {
		for id, legs := range q.FiredLegs {
			if len(legs) > 0 && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
