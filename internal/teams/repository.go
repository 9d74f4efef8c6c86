package teams

import (
	"context"
	"sort"
)

// Repository is the persistence contract for teams, memberships and programs.
type Repository interface {
	Get(ctx context.Context, id string) (Team, error)
	ListAll(ctx context.Context) ([]Team, error)
	ListForAgent(ctx context.Context, userID string) ([]Team, error)

	Members(ctx context.Context, teamID string) ([]Member, error)
	MembershipsForAgent(ctx context.Context, userID string) ([]Member, error)
	GetMember(ctx context.Context, memberID string) (Member, error)

	// MemberIDs lists the active agent ids of a team.
	MemberIDs(ctx context.Context, teamID string) ([]string, error)
	// TeamIDsForAgents lists the distinct teams any of the agents belongs to.
	TeamIDsForAgents(ctx context.Context, userIDs []string) ([]string, error)

	GetProgram(ctx context.Context, id string) (Program, error)
	ResolveDialedNumber(ctx context.Context, number string) (DialedTarget, error)

	// NextRoundRobin atomically advances the team's cursor to the candidate following the
	// previous pick and returns it.
	NextRoundRobin(ctx context.Context, teamID string, candidates []string) (string, error)
}

// nextAfter picks the candidate that follows cursor in id order, wrapping around.
func nextAfter(cursor string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if id > cursor {
			return id
		}
	}
	return sorted[0]
}
