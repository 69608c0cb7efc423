package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/BradenHooton/lineage-auth/internal/services"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AuthService defines the login and session operations used by AuthHandler
type AuthService interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string, client models.ClientInfo) (*services.LoginResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
	ListSessions(ctx context.Context, userID string) ([]models.SessionSummary, error)
	RevokeUserSession(ctx context.Context, userID, sessionID string) error
	Register(ctx context.Context, req services.RegisterRequest) (*services.UserResponse, error)
	GetCurrentUser(ctx context.Context, userID string) (*services.UserResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthService
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthService, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// decodeAndValidate decodes the body into dst and validates it, writing a
// 400 on failure
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := pkghttp.DecodeJSON(w, r, dst); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// requireClaims returns the caller's claims or writes a 401
func requireClaims(w http.ResponseWriter, r *http.Request) *models.AccessClaims {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
	}
	return claims
}

// presentedRefreshToken reads the refresh token from an optional JSON body,
// falling back to the refresh_token cookie
func presentedRefreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req RefreshTokenRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return "", false
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, true
	}
	token, _ := auth.GetRefreshTokenCookie(r)
	return token, true
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, resp *services.LoginResponse) {
	if resp.AccessToken != "" {
		auth.SetTokenCookies(w,
			resp.AccessToken, time.Duration(resp.ExpiresIn)*time.Second,
			resp.RefreshToken, time.Duration(resp.RefreshExpiresIn)*time.Second,
			h.cookies)
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Register handles user registration
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, user)
}

// Login handles user login. When MFA is enabled and no code was sent the
// body carries requireMfa=true and no tokens.
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		MFACode:  req.MFACode,
		Client:   pkghttp.ExtractClientInfo(r, h.ipConfig),
	})
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	h.writeTokens(w, resp)
}

// Refresh exchanges a refresh token from the body or cookie for new tokens
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := presentedRefreshToken(w, r)
	if !ok {
		return
	}
	if token == "" {
		pkghttp.WriteUnauthorized(w, "missing refresh token")
		return
	}

	resp, err := h.service.Refresh(r.Context(), token, pkghttp.ExtractClientInfo(r, h.ipConfig))
	if err != nil {
		if errors.Is(err, models.ErrTokenInvalid) || errors.Is(err, models.ErrTokenExpired) {
			auth.ClearTokenCookies(w, h.cookies)
		}
		pkghttp.WriteDomainError(w, err)
		return
	}

	h.writeTokens(w, resp)
}

// Logout revokes the presented refresh token and its session. It always
// clears the token cookies.
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := presentedRefreshToken(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	auth.ClearTokenCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles logout from all devices
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	auth.ClearTokenCookies(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user's profile
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// ListSessions returns the caller's active sessions
// @Router /auth/sessions [get]
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{
		Sessions:         sessions,
		CurrentSessionID: claims.SessionID,
	})
}

// RevokeSession ends one of the caller's sessions
// @Router /auth/sessions/{id} [delete]
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session id is required")
		return
	}

	if err := h.service.RevokeUserSession(r.Context(), claims.UserID, sessionID); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	if sessionID == claims.SessionID {
		auth.ClearTokenCookies(w, h.cookies)
	}
	w.WriteHeader(http.StatusNoContent)
}
