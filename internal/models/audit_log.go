package models

import "time"

// AuditLog is the durable copy of one security audit event
type AuditLog struct {
	ID            string            `json:"id"`
	Category      string            `json:"category"`
	EventType     string            `json:"event_type"`
	UserID        *string           `json:"user_id,omitempty"`
	SessionID     *string           `json:"session_id,omitempty"`
	IPAddress     *string           `json:"ip_address,omitempty"`
	UserAgent     *string           `json:"user_agent,omitempty"`
	Success       bool              `json:"success"`
	FailureReason *string           `json:"failure_reason,omitempty"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
}
