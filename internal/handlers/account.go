package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/lineage-auth/internal/auth"
	"github.com/BradenHooton/lineage-auth/internal/services"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
)

// AccountService defines password and email verification operations
type AccountService interface {
	ChangePassword(ctx context.Context, req services.ChangePasswordRequest) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, plainToken, newPassword string) error
	RequestEmailVerification(ctx context.Context, userID string) error
	ResendEmailVerification(ctx context.Context, email string) error
	ConfirmEmailVerification(ctx context.Context, plainToken string) error
}

// AccountHandler handles password and email verification requests
type AccountHandler struct {
	service  AccountService
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(service AccountService, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		service:  service,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

const resetAccepted = "If the email belongs to an account, a password reset link has been sent."

// ChangePassword changes the caller's password. Other sessions are ended;
// the calling session survives.
// @Router /auth/password/change [post]
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	refreshToken, _ := auth.GetRefreshTokenCookie(r)
	err := h.service.ChangePassword(r.Context(), services.ChangePasswordRequest{
		UserID:          claims.UserID,
		SessionID:       claims.SessionID,
		RefreshToken:    refreshToken,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Client:          pkghttp.ExtractClientInfo(r, h.ipConfig),
	})
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset mails a reset link. The response never reveals
// whether the email is registered.
// @Router /auth/password/reset [post]
func (h *AccountHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: resetAccepted})
}

// ConfirmPasswordReset sets a new password from a reset token
// @Router /auth/password/reset/confirm [post]
func (h *AccountHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirmRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	auth.ClearTokenCookies(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset. Please log in."})
}

// RequestEmailVerification mails a new verification link to the caller
// @Router /auth/verify-email/request [post]
func (h *AccountHandler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	if err := h.service.RequestEmailVerification(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "Verification email sent."})
}

// ResendVerification handles resending of the verification email by address
// @Router /auth/verify-email/resend [post]
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ResendEmailVerification(r.Context(), req.Email); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If the email belongs to an unverified account, a verification link has been sent.",
	})
}

// VerifyEmail redeems a verification token
// @Router /auth/verify-email [post]
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ConfirmEmailVerification(r.Context(), req.Token); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email verified successfully."})
}
