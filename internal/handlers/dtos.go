package handlers

import "github.com/BradenHooton/lineage-auth/internal/models"

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	MFACode  string `json:"mfaCode,omitempty" validate:"omitempty,mfacode"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username,omitempty" validate:"omitempty,min=3,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

// RefreshTokenRequest carries a refresh token when it is not sent as a cookie
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=128"`
	NewPassword     string `json:"newPassword" validate:"required,max=128"`
}

// PasswordResetRequest asks for a reset link
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// PasswordResetConfirmRequest redeems a reset link
type PasswordResetConfirmRequest struct {
	Token       string `json:"token" validate:"required,max=128"`
	NewPassword string `json:"newPassword" validate:"required,max=128"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

// ResendVerificationRequest represents the request body for resending verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// MFACodeRequest carries a TOTP code
type MFACodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableMFARequest carries the password, a TOTP code or a backup code
type DisableMFARequest struct {
	Proof string `json:"proof" validate:"required,max=128"`
}

// SetActiveRequest toggles an account on or off
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// Response DTOs

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// SessionsResponse lists the caller's sessions
type SessionsResponse struct {
	Sessions         []models.SessionSummary `json:"sessions"`
	CurrentSessionID string                  `json:"current_session_id,omitempty"`
}

// AuditLogsResponse lists a user's persisted audit records, newest first
type AuditLogsResponse struct {
	AuditLogs []*models.AuditLog `json:"audit_logs"`
}

// BackupCodesResponse carries freshly generated backup codes, shown once
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}
