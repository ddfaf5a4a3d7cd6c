package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// AgentAddress is the agent's own telephony address (SIP or E.164), used
// when bridging the agent leg into a call.
type Claims struct {
	jwt.RegisteredClaims

	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	AgentAddress string    `json:"agent_address,omitempty"`
	TokenType    TokenType `json:"token_type"`
}
