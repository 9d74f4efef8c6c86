package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"leasing-telephony/internal/auth"
	"leasing-telephony/internal/rbac"
)

// Tokens issues agent API tokens. Credentials are checked upstream by the identity
// provider; this endpoint is reached by supervisors and admins provisioning clients.
type Tokens struct {
	Auth *auth.Manager
	Now  func() time.Time
}

type issueTokenRequest struct {
	UserID  string   `json:"user_id"`
	TeamIDs []string `json:"team_ids"`
	Role    string   `json:"role"`
}

func knownRole(role string) bool {
	switch role {
	case rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleAdmin, rbac.RoleCarrierSupport:
		return true
	}
	return false
}

// Issue returns a token pair. Supervisors may only issue agent tokens.
func (t Tokens) Issue(c *gin.Context) {
	if t.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || !knownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a known role required"})
		return
	}
	callerRole, _ := auth.Role(c.Request.Context())
	if !rbac.IsAdmin(callerRole) && req.Role != rbac.RoleAgent {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "only admins issue non-agent tokens"})
		return
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	pair, err := t.Auth.IssuePair(now(), req.UserID, req.TeamIDs, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}
