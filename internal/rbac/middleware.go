package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"leasing-telephony/internal/auth"
)

// RequireTeamMember admits callers who belong to the team named by the path parameter.
// Roles that see all teams pass without membership.
func RequireTeamMember(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if SeesAllTeams(role) {
			c.Next()
			return
		}
		teamID := c.Param(param)
		for _, id := range auth.TeamIDs(c.Request.Context()) {
			if id == teamID {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a member of this team"})
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - admin bypasses all checks
// - carrier_support is a hidden role, and will be denied unless explicitly allowed
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
