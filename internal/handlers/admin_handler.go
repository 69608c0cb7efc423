package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/BradenHooton/lineage-auth/internal/services"
	pkghttp "github.com/BradenHooton/lineage-auth/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminService defines the administrative account operations
type AdminService interface {
	GetUser(ctx context.Context, userID string) (*services.UserResponse, error)
	DeleteUser(ctx context.Context, actorID, userID string) error
	UnlockUser(ctx context.Context, actorID, userID string) error
	SetUserActive(ctx context.Context, actorID, userID string, active bool) error
	ListUserSessions(ctx context.Context, userID string) ([]models.SessionSummary, error)
	ListUserAuditLogs(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error)
}

// AdminHandler handles admin-only HTTP requests. Routes must sit behind
// auth.RequireRole("admin").
type AdminHandler struct {
	service AdminService
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// GetUser returns any user's profile
// @Router /admin/users/{id} [get]
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	if requireClaims(w, r) == nil {
		return
	}

	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// DeleteUser permanently removes a user
// @Router /admin/users/{id} [delete]
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	if err := h.service.DeleteUser(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnlockUser lifts a lockout
// @Router /admin/users/{id}/unlock [post]
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	if err := h.service.UnlockUser(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetActive activates or deactivates an account
// @Router /admin/users/{id}/active [put]
func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	claims := requireClaims(w, r)
	if claims == nil {
		return
	}

	var req SetActiveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.SetUserActive(r.Context(), claims.UserID, chi.URLParam(r, "id"), *req.Active); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserSessions returns any user's sessions
// @Router /admin/users/{id}/sessions [get]
func (h *AdminHandler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	if requireClaims(w, r) == nil {
		return
	}

	sessions, err := h.service.ListUserSessions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// ListUserAuditLogs returns the newest audit records of a user
// @Router /admin/users/{id}/audit-logs [get]
func (h *AdminHandler) ListUserAuditLogs(w http.ResponseWriter, r *http.Request) {
	if requireClaims(w, r) == nil {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	logs, err := h.service.ListUserAuditLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, AuditLogsResponse{AuditLogs: logs})
}
