package models

// MFAEnrollment is returned once when enrollment begins
type MFAEnrollment struct {
	Secret          string `json:"secret"`           // Base32 shared secret for manual entry
	ProvisioningURI string `json:"provisioning_uri"` // otpauth:// URI for authenticator apps
	QRCode          string `json:"qr_code"`          // Data URL of the provisioning URI
	ExpiresInSecs   int    `json:"expires_in"`
}

// MFAStatus represents the MFA status for a user
type MFAStatus struct {
	MFAEnabled           bool `json:"mfa_enabled"`
	EnrollmentPending    bool `json:"enrollment_pending"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}
