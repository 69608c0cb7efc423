package models

import "time"

// RefreshTokenRecord is the registry row of an outstanding refresh token
type RefreshTokenRecord struct {
	ID                string
	UserID            string
	TokenJTI          string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	RevokedAt         *time.Time
	IPAddress         string
	UserAgent         string
	SessionID         *string
	DeviceFingerprint *string
	LocationInfo      *string
}

// IsActive reports whether the record is neither revoked nor expired at now
func (r *RefreshTokenRecord) IsActive(now time.Time) bool {
	return r.RevokedAt == nil && r.ExpiresAt.After(now)
}
