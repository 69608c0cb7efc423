package models

import "time"

// Session is the ephemeral record of an authenticated client
type Session struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	RefreshJTI   string    `json:"refresh_jti"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	MFAVerified  bool      `json:"mfa_verified"`
	PreviousIP   string    `json:"previous_ip,omitempty"`
}

// SessionSummary is the redacted view of a session returned to account owners
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MFAVerified  bool      `json:"mfa_verified"`
}

// Summary strips token references from the session
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID:    s.SessionID,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		MFAVerified:  s.MFAVerified,
	}
}

// SecurityCheck is the outcome of validating a request against its session
type SecurityCheck struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings"`
	Reason   string   `json:"reason,omitempty"`
}
