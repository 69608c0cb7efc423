package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenConfig holds the key material and claim expectations of a TokenManager
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenManager signs and verifies access and refresh tokens.
// Access and refresh tokens are signed with distinct secrets.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("access and refresh secrets must differ")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("issuer and audience are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}

	return &TokenManager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}, nil
}

// SetClock replaces the time source used for issuing and validating tokens
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// AccessTTL returns the configured access token lifetime
func (tm *TokenManager) AccessTTL() time.Duration { return tm.accessTTL }

// RefreshTTL returns the configured refresh token lifetime
func (tm *TokenManager) RefreshTTL() time.Duration { return tm.refreshTTL }

func (tm *TokenManager) registered(subject, jti string, ttl time.Duration) jwt.RegisteredClaims {
	now := tm.now()
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    tm.issuer,
		Audience:  jwt.ClaimStrings{tm.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
}

// IssueAccessToken signs an access token for the identity in claims.
// Registered claims are always set by the manager.
func (tm *TokenManager) IssueAccessToken(claims models.AccessClaims, ttl time.Duration) (string, error) {
	if claims.UserID == "" {
		return "", fmt.Errorf("access token requires a user id")
	}
	if ttl <= 0 {
		ttl = tm.accessTTL
	}
	claims.RegisteredClaims = tm.registered(claims.UserID, uuid.NewString(), ttl)

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(tm.accessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// IssueRefreshToken signs a refresh token carrying jti
func (tm *TokenManager) IssueRefreshToken(userID, jti, sessionID string, ttl time.Duration) (string, error) {
	if userID == "" || jti == "" {
		return "", fmt.Errorf("refresh token requires a user id and jti")
	}
	if ttl <= 0 {
		ttl = tm.refreshTTL
	}
	claims := &models.RefreshClaims{
		Type:             models.TokenTypeRefresh,
		UserID:           userID,
		SessionID:        sessionID,
		RegisteredClaims: tm.registered(userID, jti, ttl),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return tokenString, nil
}

// DecodeAccess verifies an access token and returns its claims
func (tm *TokenManager) DecodeAccess(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := tm.parse(tokenString, claims, tm.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}

// DecodeRefresh verifies a refresh token and returns its claims
func (tm *TokenManager) DecodeRefresh(tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := tm.parse(tokenString, claims, tm.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh || claims.ID == "" {
		return nil, models.ErrTokenInvalid
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}

func (tm *TokenManager) parse(tokenString string, claims jwt.Claims, key []byte) error {
	if tokenString == "" {
		return models.ErrTokenInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(tm.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return classifyParseError(err)
	}
	if !token.Valid {
		return models.ErrTokenInvalid
	}
	return nil
}

// classifyParseError reports ErrTokenExpired only when expiry is the sole
// validation failure. Signature failures are detected before claim checks.
func classifyParseError(err error) error {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return models.ErrTokenInvalid
	}
	for _, other := range []error{
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenMalformed,
	} {
		if errors.Is(err, other) {
			return models.ErrTokenInvalid
		}
	}
	return models.ErrTokenExpired
}
