package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for the agent API.
// TeamIDs scopes team-level reads; roles are checked by internal/rbac.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	TeamIDs   []string  `json:"team_ids,omitempty"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
