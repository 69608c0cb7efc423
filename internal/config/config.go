package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	MFA      MFAConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	TrustedProxies  []string
	CookieDomain    string
	AppBaseURL      string
	AuthRateLimit   int // requests per minute per client IP on public auth endpoints
}

type AuthConfig struct {
	AccessSecret             string
	RefreshSecret            string
	Issuer                   string
	Audience                 string
	AccessTokenTTL           time.Duration
	RefreshTokenTTL          time.Duration
	BcryptCost               int
	HashWorkers              int
	LockoutThreshold         int
	LockoutDuration          time.Duration
	MaxConcurrentSessions    int
	RotateRefreshTokens      bool
	RequireEmailVerification bool
	PasswordResetTTL         time.Duration
	EmailVerificationTTL     time.Duration
	CleanupInterval          time.Duration
	AuditRetention           time.Duration // audit_logs rows older than this are swept
}

type MFAConfig struct {
	EncryptionKey   []byte // 32 bytes, AES-256
	Issuer          string
	BackupCodeCount int
	PendingTTL      time.Duration
}

type EmailConfig struct {
	Provider    string // "ses" or "log"
	AWSRegion   string
	FromAddress string
}

// IsProduction reports whether the server runs with production hardening
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "lineage"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES"),
			CookieDomain:    getEnv("COOKIE_DOMAIN", ""),
			AppBaseURL:      getEnv("APP_BASE_URL", "http://localhost:3000"),
			AuthRateLimit:   getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 5),
		},
		Auth: AuthConfig{
			AccessSecret:             getEnv("JWT_ACCESS_SECRET", ""),
			RefreshSecret:            getEnv("JWT_REFRESH_SECRET", ""),
			Issuer:                   getEnv("JWT_ISSUER", "lineage-auth"),
			Audience:                 getEnv("JWT_AUDIENCE", "lineage"),
			AccessTokenTTL:           time.Duration(getEnvAsInt("ACCESS_TOKEN_TTL_MINUTES", 30)) * time.Minute,
			RefreshTokenTTL:          time.Duration(getEnvAsInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
			BcryptCost:               getEnvAsInt("BCRYPT_COST", 12),
			HashWorkers:              getEnvAsInt("HASH_WORKERS", runtime.GOMAXPROCS(0)),
			LockoutThreshold:         getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:          getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			MaxConcurrentSessions:    getEnvAsInt("MAX_CONCURRENT_SESSIONS", 5),
			RotateRefreshTokens:      getEnvAsBool("ROTATE_REFRESH_TOKENS", false),
			RequireEmailVerification: getEnvAsBool("REQUIRE_EMAIL_VERIFICATION", false),
			PasswordResetTTL:         getEnvAsDuration("PASSWORD_RESET_TTL", 1*time.Hour),
			EmailVerificationTTL:     getEnvAsDuration("EMAIL_VERIFICATION_TTL", 24*time.Hour),
			CleanupInterval:          getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			AuditRetention:           time.Duration(getEnvAsInt("AUDIT_RETENTION_DAYS", 90)) * 24 * time.Hour,
		},
		MFA: MFAConfig{
			Issuer:          getEnv("MFA_ISSUER", "Lineage"),
			BackupCodeCount: getEnvAsInt("MFA_BACKUP_CODE_COUNT", 5),
			PendingTTL:      getEnvAsDuration("MFA_PENDING_TTL", 10*time.Minute),
		},
		Email: EmailConfig{
			Provider:    strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret("JWT_ACCESS_SECRET", cfg.Auth.AccessSecret, env); err != nil {
		return nil, err
	}
	if err := validateJWTSecret("JWT_REFRESH_SECRET", cfg.Auth.RefreshSecret, env); err != nil {
		return nil, err
	}
	if cfg.Auth.AccessSecret == cfg.Auth.RefreshSecret {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	key, err := parseEncryptionKey(getEnv("MFA_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}
	cfg.MFA.EncryptionKey = key

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks numeric bounds that have no safe fallback
func (c *Config) validate() error {
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"ACCESS_TOKEN_TTL_MINUTES", c.Auth.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL_DAYS", c.Auth.RefreshTokenTTL},
		{"LOCKOUT_DURATION", c.Auth.LockoutDuration},
		{"PASSWORD_RESET_TTL", c.Auth.PasswordResetTTL},
		{"EMAIL_VERIFICATION_TTL", c.Auth.EmailVerificationTTL},
		{"TOKEN_CLEANUP_INTERVAL", c.Auth.CleanupInterval},
		{"AUDIT_RETENTION_DAYS", c.Auth.AuditRetention},
		{"MFA_PENDING_TTL", c.MFA.PendingTTL},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return fmt.Errorf("access token lifetime must be shorter than refresh token lifetime")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31 (got %d)", c.Auth.BcryptCost)
	}
	if c.Auth.HashWorkers < 1 {
		return fmt.Errorf("HASH_WORKERS must be at least 1")
	}
	if c.Auth.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if c.Server.AuthRateLimit < 1 {
		return fmt.Errorf("AUTH_RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.Auth.MaxConcurrentSessions < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SESSIONS must be at least 1")
	}
	if c.MFA.BackupCodeCount < 1 || c.MFA.BackupCodeCount > 20 {
		return fmt.Errorf("MFA_BACKUP_CODE_COUNT must be between 1 and 20")
	}

	switch c.Email.Provider {
	case "ses", "log":
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be \"ses\" or \"log\" (got %q)", c.Email.Provider)
	}
	if c.Server.IsProduction() && c.Email.Provider == "log" {
		return fmt.Errorf("EMAIL_PROVIDER=log is not allowed in production")
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for a signing secret
func validateJWTSecret(name, secret, env string) error {
	if secret == "" {
		return fmt.Errorf("%s is required", name)
	}

	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak || strings.Repeat(weak, len(secretLower)/len(weak)) == secretLower {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

// parseEncryptionKey decodes the base64 AES-256 key used for TOTP secrets
func parseEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
