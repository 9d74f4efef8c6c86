package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.TeamIDs, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on a websocket
// handshake, so upgrade requests may pass the token as the access_token query param.
func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimPrefix(raw, bearerPrefix)
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("access_token")
	}
	return ""
}
