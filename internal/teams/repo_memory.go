package teams

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	teams    map[string]Team
	members  map[string]Member
	programs map[string]Program
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		teams:    map[string]Team{},
		members:  map[string]Member{},
		programs: map[string]Program{},
	}
}

func (r *MemoryRepo) PutTeam(t Team) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[t.ID] = t
}

func (r *MemoryRepo) PutMember(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = m
}

func (r *MemoryRepo) PutProgram(p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[p.ID] = p
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[id]
	if !ok {
		return Team{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) ListAll(ctx context.Context) ([]Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Team, 0, len(r.teams))
	for _, t := range r.teams {
		out = append(out, t)
	}
	sortTeams(out)
	return out, nil
}

func (r *MemoryRepo) ListForAgent(ctx context.Context, userID string) ([]Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Team
	for _, m := range r.members {
		if m.UserID != userID || m.Inactive {
			continue
		}
		if t, ok := r.teams[m.TeamID]; ok {
			out = append(out, t)
		}
	}
	sortTeams(out)
	return out, nil
}

func (r *MemoryRepo) Members(ctx context.Context, teamID string) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Member
	for _, m := range r.members {
		if m.TeamID == teamID && !m.Inactive {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out, nil
}

func (r *MemoryRepo) MembershipsForAgent(ctx context.Context, userID string) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Member
	for _, m := range r.members {
		if m.UserID == userID && !m.Inactive {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out, nil
}

func (r *MemoryRepo) GetMember(ctx context.Context, memberID string) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryRepo) MemberIDs(ctx context.Context, teamID string) ([]string, error) {
	ms, err := r.Members(ctx, teamID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.UserID)
	}
	return out, nil
}

func (r *MemoryRepo) TeamIDsForAgents(ctx context.Context, userIDs []string) ([]string, error) {
	want := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, m := range r.members {
		if _, ok := want[m.UserID]; !ok || m.Inactive {
			continue
		}
		if _, dup := seen[m.TeamID]; dup {
			continue
		}
		seen[m.TeamID] = struct{}{}
		out = append(out, m.TeamID)
	}
	sortStrings(out)
	return out, nil
}

func (r *MemoryRepo) GetProgram(ctx context.Context, id string) (Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.programs[id]
	if !ok {
		return Program{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) ResolveDialedNumber(ctx context.Context, number string) (DialedTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.programs {
		if p.PhoneNumber == number {
			return DialedTarget{Kind: DialedProgram, ID: p.ID}, nil
		}
	}
	for _, m := range r.members {
		if m.DirectPhone != "" && m.DirectPhone == number && !m.Inactive {
			return DialedTarget{Kind: DialedTeamMember, ID: m.ID}, nil
		}
	}
	return DialedTarget{}, ErrNotFound
}

func (r *MemoryRepo) NextRoundRobin(ctx context.Context, teamID string, candidates []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[teamID]
	if !ok {
		return "", ErrNotFound
	}
	next := nextAfter(t.RoundRobinCursor, candidates)
	if next == "" {
		return "", nil
	}
	t.RoundRobinCursor = next
	r.teams[teamID] = t
	return next, nil
}
