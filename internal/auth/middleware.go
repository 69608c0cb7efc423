package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/lineage-auth/internal/models"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing access claims in context
	UserContextKey contextKey = "user"
)

// AccessTokenDecoder verifies access tokens
type AccessTokenDecoder interface {
	DecodeAccess(tokenString string) (*models.AccessClaims, error)
}

// ActivityRecorder records that a session made an authenticated request
type ActivityRecorder interface {
	UpdateActivity(ctx context.Context, sessionID string, client models.ClientInfo) error
}

// AuthMiddleware validates access tokens and injects claims into context.
// Tokens are read from the Authorization header, falling back to the access_token cookie.
// When the token carries a session id and activity is non-nil, the session's activity is
// recorded; a session that no longer exists rejects the request, while an unreachable
// registry only logs.
func AuthMiddleware(decoder AccessTokenDecoder, activity ActivityRecorder, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed credentials")
				return
			}

			claims, err := decoder.DecodeAccess(tokenString)
			if err != nil {
				if errors.Is(err, models.ErrTokenExpired) {
					pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "access token has expired")
					return
				}
				pkghttp.WriteUnauthorized(w, "invalid token")
				return
			}

			if activity != nil && claims.SessionID != "" {
				client := pkghttp.ExtractClientInfo(r, ipConfig)
				if err := activity.UpdateActivity(r.Context(), claims.SessionID, client); err != nil {
					if errors.Is(err, models.ErrNotFound) {
						pkghttp.WriteUnauthorized(w, "session has been revoked")
						return
					}
					logger.Warn("failed to record session activity",
						slog.String("user_id", claims.UserID),
						slog.String("session_id", claims.SessionID),
						slog.Any("error", err))
				}
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// bearerToken extracts the access token from the request
func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token, err := GetAccessTokenCookie(r); err == nil && token != "" {
		return token, true
	}
	return "", false
}

// RequireRole rejects requests whose access claims do not carry role.
// Must be used after AuthMiddleware.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}
			if claims.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *models.AccessClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext extracts access claims from request context
func GetUserFromContext(r *http.Request) *models.AccessClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.AccessClaims)
	if !ok {
		return nil
	}
	return claims
}
