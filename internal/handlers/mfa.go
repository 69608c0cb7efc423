package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/lineage-auth/internal/models"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
)

// MFAService defines the TOTP enrollment and management operations
type MFAService interface {
	BeginEnrollment(ctx context.Context, userID string) (*models.MFAEnrollment, error)
	ConfirmEnrollment(ctx context.Context, userID, code string) ([]string, error)
	Disable(ctx context.Context, userID, proof string, client models.ClientInfo) error
	Status(ctx context.Context, userID string) (*models.MFAStatus, error)
	RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error)
}

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	service  MFAService
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAService, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{service: service, ipConfig: ipConfig, logger: logger}
}

// BeginEnrollment starts TOTP enrollment and returns the secret and QR code
// @Router /auth/mfa/enroll [post]
func (h *MFAHandler) BeginEnrollment(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	enrollment, err := h.service.BeginEnrollment(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	// The secret appears only in this response
	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// ConfirmEnrollment enables MFA and returns the backup codes
// @Router /auth/mfa/confirm [post]
func (h *MFAHandler) ConfirmEnrollment(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	var req MFACodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	codes, err := h.service.ConfirmEnrollment(r.Context(), claims.UserID, req.Code)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// Disable turns MFA off after re-authentication
// @Router /auth/mfa/disable [post]
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	var req DisableMFARequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, req.Proof, pkghttp.ExtractClientInfo(r, h.ipConfig)); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status reports the caller's MFA state
// @Router /auth/mfa/status [get]
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	status, err := h.service.Status(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// RegenerateBackupCodes replaces the caller's backup codes
// @Router /auth/mfa/backup-codes [post]
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	var req MFACodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.UserID, req.Code)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}
