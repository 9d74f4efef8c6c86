package agents

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{agents: map[string]Agent{}} }

func (r *MemoryRepo) Put(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) GetMany(ctx context.Context, ids []string) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, ids []string, status Status, manual bool, at time.Time) ([]StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusChange
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		a, ok := r.agents[id]
		if !ok || a.Status == status || a.blocksAutomatic(status, manual) {
			continue
		}
		from := a.Status
		a.applyStatus(status, manual, at)
		r.agents[id] = a
		out = append(out, StatusChange{Agent: a, From: from})
	}
	return out, nil
}

func (r *MemoryRepo) UpdateStatusFrom(ctx context.Context, ids []string, from, status Status, at time.Time) ([]StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusChange
	for _, id := range ids {
		a, ok := r.agents[id]
		if !ok || a.Status != from || from == status {
			continue
		}
		a.applyStatus(status, false, at)
		r.agents[id] = a
		out = append(out, StatusChange{Agent: a, From: from})
	}
	return out, nil
}

func (r *MemoryRepo) Reconcile(ctx context.Context, id string, at time.Time) (StatusChange, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return StatusChange{}, false, ErrNotFound
	}
	from := a.Status
	target := a.ResolvedStatus()
	if from == target {
		return StatusChange{Agent: a, From: from}, false, nil
	}
	a.applyStatus(target, false, at)
	r.agents[id] = a
	return StatusChange{Agent: a, From: from}, true, nil
}

func (r *MemoryRepo) SetTimer(ctx context.Context, id string, kind TimerKind, timerID string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	switch kind {
	case TimerWrapUp:
		a.WrapUpTimerID = timerID
	case TimerLogin:
		a.LoginTimerID = timerID
	}
	r.agents[id] = a
	return a, nil
}

func (r *MemoryRepo) ResolveTimer(ctx context.Context, id string, kind TimerKind, timerID string, at time.Time) (TimerOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return TimerOutcome{}, ErrNotFound
	}
	if timerID == "" || a.TimerID(kind) != timerID {
		return TimerOutcome{Agent: a}, nil
	}

	from := a.Status
	switch kind {
	case TimerWrapUp:
		a.WrapUpTimerID = ""
	case TimerLogin:
		a.LoginTimerID = ""
	}
	target := a.ResolvedStatus()
	changed := a.Status != target
	if changed {
		a.applyStatus(target, false, at)
	}
	r.agents[id] = a
	return TimerOutcome{Agent: a, Matched: true, Changed: changed, From: from}, nil
}
