package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeRefresh marks refresh tokens in the "type" claim
const TokenTypeRefresh = "refresh"

// AccessClaims are carried by access tokens
type AccessClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims are carried by refresh tokens; RegisteredClaims.ID holds the JTI
type RefreshClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// JTI returns the unique token id of the refresh token
func (c *RefreshClaims) JTI() string {
	return c.ID
}
