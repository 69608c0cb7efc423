package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

// setRequiredEnv sets the minimum environment Load accepts
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("JWT_ACCESS_SECRET", "access-secret-32-characters-long!")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret-32-characters-long")
	t.Setenv("MFA_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))))
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	durations := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"AccessTokenTTL", cfg.Auth.AccessTokenTTL, 30 * time.Minute},
		{"RefreshTokenTTL", cfg.Auth.RefreshTokenTTL, 7 * 24 * time.Hour},
		{"LockoutDuration", cfg.Auth.LockoutDuration, 15 * time.Minute},
		{"PasswordResetTTL", cfg.Auth.PasswordResetTTL, time.Hour},
		{"EmailVerificationTTL", cfg.Auth.EmailVerificationTTL, 24 * time.Hour},
		{"CleanupInterval", cfg.Auth.CleanupInterval, time.Hour},
		{"AuditRetention", cfg.Auth.AuditRetention, 90 * 24 * time.Hour},
		{"MFAPendingTTL", cfg.MFA.PendingTTL, 10 * time.Minute},
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
	}
	for _, tt := range durations {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	ints := []struct {
		name     string
		actual   int
		expected int
	}{
		{"BcryptCost", cfg.Auth.BcryptCost, 12},
		{"LockoutThreshold", cfg.Auth.LockoutThreshold, 5},
		{"MaxConcurrentSessions", cfg.Auth.MaxConcurrentSessions, 5},
		{"BackupCodeCount", cfg.MFA.BackupCodeCount, 5},
		{"AuthRateLimit", cfg.Server.AuthRateLimit, 5},
	}
	for _, tt := range ints {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %d, want %d", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Auth.RotateRefreshTokens {
		t.Error("RotateRefreshTokens should default to false")
	}
	if cfg.Auth.RequireEmailVerification {
		t.Error("RequireEmailVerification should default to false")
	}
	if cfg.Auth.HashWorkers < 1 {
		t.Errorf("HashWorkers = %d, want >= 1", cfg.Auth.HashWorkers)
	}
	if len(cfg.MFA.EncryptionKey) != 32 {
		t.Errorf("EncryptionKey length = %d, want 32", len(cfg.MFA.EncryptionKey))
	}
	if cfg.Email.Provider != "log" {
		t.Errorf("Email.Provider = %q, want log", cfg.Email.Provider)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "10")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "1")
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("LOCKOUT_DURATION", "30m")
	t.Setenv("ROTATE_REFRESH_TOKENS", "true")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.0/12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Auth.AccessTokenTTL != 10*time.Minute {
		t.Errorf("AccessTokenTTL = %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v", cfg.Auth.RefreshTokenTTL)
	}
	if cfg.Auth.LockoutThreshold != 3 || cfg.Auth.LockoutDuration != 30*time.Minute {
		t.Errorf("lockout = %d/%v", cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration)
	}
	if !cfg.Auth.RotateRefreshTokens {
		t.Error("RotateRefreshTokens should be true")
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[1] != "172.16.0.0/12" {
		t.Errorf("TrustedProxies = %v", cfg.Server.TrustedProxies)
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_DURATION", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Auth.LockoutDuration != 15*time.Minute {
		t.Errorf("LockoutDuration = %v, want default", cfg.Auth.LockoutDuration)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing db password", map[string]string{"DB_PASSWORD": ""}, "DB_PASSWORD"},
		{"missing access secret", map[string]string{"JWT_ACCESS_SECRET": ""}, "JWT_ACCESS_SECRET"},
		{"short refresh secret", map[string]string{"JWT_REFRESH_SECRET": "short"}, "JWT_REFRESH_SECRET"},
		{"shared secrets", map[string]string{"JWT_REFRESH_SECRET": "access-secret-32-characters-long!"}, "must differ"},
		{"weak secret", map[string]string{"JWT_ACCESS_SECRET": "changemechangemechangeme"}, "weak"},
		{"bad key encoding", map[string]string{"MFA_ENCRYPTION_KEY": "%%%"}, "base64"},
		{"short key", map[string]string{"MFA_ENCRYPTION_KEY": base64.StdEncoding.EncodeToString([]byte("short"))}, "32 bytes"},
		{"bcrypt cost", map[string]string{"BCRYPT_COST": "40"}, "BCRYPT_COST"},
		{"zero sessions", map[string]string{"MAX_CONCURRENT_SESSIONS": "0"}, "MAX_CONCURRENT_SESSIONS"},
		{"zero audit retention", map[string]string{"AUDIT_RETENTION_DAYS": "0"}, "AUDIT_RETENTION_DAYS"},
		{"access outlives refresh", map[string]string{"ACCESS_TOKEN_TTL_MINUTES": "20160"}, "shorter"},
		{"unknown email provider", map[string]string{"EMAIL_PROVIDER": "smtp"}, "EMAIL_PROVIDER"},
		{"log mailer in production", map[string]string{"ENV": "production", "JWT_ACCESS_SECRET": strings.Repeat("a", 40), "JWT_REFRESH_SECRET": strings.Repeat("b", 40)}, "production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("Load() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_ProductionRequiresLongSecrets(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("EMAIL_PROVIDER", "ses")
	t.Setenv("JWT_ACCESS_SECRET", "only-twenty-chars-ok")

	if _, err := Load(); err == nil {
		t.Fatal("expected production to reject a 20 character secret")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "lineage", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=lineage sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
