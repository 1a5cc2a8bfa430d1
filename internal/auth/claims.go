package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported token claims shape for the /internal surface.
// Tokens are minted by trusted internal services (the voice orchestrator)
// using the shared INTERNAL_API_SECRET; there are no user tokens here.
type Claims struct {
	jwt.RegisteredClaims

	// Service identifies the calling process, e.g. "voice-orchestrator".
	Service   string `json:"service"`
	TokenType string `json:"token_type"`
}

const TokenTypeInternal = "internal"
